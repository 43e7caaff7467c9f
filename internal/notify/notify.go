// Package notify fans lock lifecycle events out to listeners: local
// WebSocket clients (the always-on display, companion widgets) and the
// optional parent Telegram chat.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"salahguard/internal/core"
)

// Event is the wire form of a lock lifecycle notification
type Event struct {
	Type           string              `json:"type"`
	Prayer         core.PrayerName     `json:"prayer,omitempty"`
	CompletionType core.CompletionType `json:"completion_type,omitempty"`
	At             time.Time           `json:"at"`
}

// Fanout distributes events to every configured channel. Delivery is best
// effort; a failed channel never blocks or fails the lock transition that
// produced the event.
type Fanout struct {
	hub      *Hub
	telegram *TelegramNotifier
	logger   *slog.Logger
}

// NewFanout creates the event fanout. hub and telegram may each be nil.
func NewFanout(hub *Hub, telegram *TelegramNotifier, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		hub:      hub,
		telegram: telegram,
		logger:   logger.With("component", "notify"),
	}
}

// UnlockCompleted implements core.UnlockSink
func (f *Fanout) UnlockCompleted(prayer core.PrayerName, completionType core.CompletionType, at time.Time) {
	f.publish(Event{Type: "unlock", Prayer: prayer, CompletionType: completionType, At: at})

	if f.telegram != nil && prayer != core.PrayerTest {
		var text string
		switch completionType {
		case core.CompletionAutoExpired:
			text = fmt.Sprintf("%s window closed without completion", prayer)
		default:
			text = fmt.Sprintf("%s completed (%s)", prayer, completionType)
		}
		if err := f.telegram.Send(text); err != nil {
			f.logger.Error("telegram notification failed", "prayer", prayer, "error", err)
		}
	}
}

// PrayerReminder announces an upcoming prayer ahead of its time
func (f *Fanout) PrayerReminder(prayer core.PrayerName, scheduledTime time.Time) {
	f.publish(Event{Type: "reminder", Prayer: prayer, At: scheduledTime})
}

// Adhan asks the display to play the call to prayer
func (f *Fanout) Adhan(prayer core.PrayerName, at time.Time) {
	f.publish(Event{Type: "adhan", Prayer: prayer, At: at})
}

// LockActivated announces a new lock episode
func (f *Fanout) LockActivated(prayer core.PrayerName, at time.Time) {
	f.publish(Event{Type: "lock", Prayer: prayer, At: at})
}

// BypassDetected announces a suspected bypass to the parent chat
func (f *Fanout) BypassDetected(prayer core.PrayerName, at time.Time) {
	f.publish(Event{Type: "bypass", Prayer: prayer, At: at})

	if f.telegram != nil {
		text := fmt.Sprintf("Lock bypass suspected during %s, recovery started", prayer)
		if err := f.telegram.Send(text); err != nil {
			f.logger.Error("telegram notification failed", "prayer", prayer, "error", err)
		}
	}
}

func (f *Fanout) publish(ev Event) {
	if f.hub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	f.hub.Broadcast(payload)
}
