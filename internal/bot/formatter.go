package bot

import (
	"fmt"
	"strings"
	"time"

	"salahguard/internal/core"
)

// FormatLockState renders an active lock state for the parent chat
func FormatLockState(state *core.LockState, tz *time.Location) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("🔒 Lock active for %s (%d rakaat)\n", state.PrayerName, state.RakaatCount))
	sb.WriteString(fmt.Sprintf("Prayer time: %s\n", state.PrayerTime.In(tz).Format("15:04")))
	sb.WriteString(fmt.Sprintf("Locked since: %s\n", state.ActivatedAt.In(tz).Format("15:04")))
	if state.BypassSuspected {
		sb.WriteString("⚠️ Bypass suspected, recovery is running\n")
	}
	return sb.String()
}

// FormatCompletions renders today's completion ledger
func FormatCompletions(records []*core.CompletionRecord, tz *time.Location) string {
	if len(records) == 0 {
		return "No prayers recorded today yet."
	}

	var sb strings.Builder
	sb.WriteString("📿 Today's prayers\n\n")
	for _, r := range records {
		icon := "✅"
		if r.Status == core.CompletionStatusMissed {
			icon = "❌"
		}
		sb.WriteString(fmt.Sprintf("%s %s", icon, r.PrayerName))
		if !r.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf(" at %s", r.Timestamp.In(tz).Format("15:04")))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatAudit renders recent audit entries, newest first
func FormatAudit(entries []*core.AuditEntry, tz *time.Location) string {
	if len(entries) == 0 {
		return "No lock events recorded."
	}

	var sb strings.Builder
	sb.WriteString("🧾 Recent lock events\n\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%s  %s", e.At.In(tz).Format("Jan 2 15:04"), e.Action))
		if e.PrayerName != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", e.PrayerName))
		}
		if e.Reason != "" {
			sb.WriteString(fmt.Sprintf(" - %s", e.Reason))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
