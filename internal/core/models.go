package core

import (
	"errors"
	"time"
)

// PrayerName identifies one of the five daily prayers, or the test sentinel.
type PrayerName string

const (
	PrayerFajr    PrayerName = "Fajr"
	PrayerDhuhr   PrayerName = "Dhuhr"
	PrayerAsr     PrayerName = "Asr"
	PrayerMaghrib PrayerName = "Maghrib"
	PrayerIsha    PrayerName = "Isha"

	// PrayerTest is a sentinel used by the operator test-lock flow.
	PrayerTest PrayerName = "Test Prayer"
)

// OrderedPrayers lists the five daily prayers in chronological order.
var OrderedPrayers = []PrayerName{PrayerFajr, PrayerDhuhr, PrayerAsr, PrayerMaghrib, PrayerIsha}

// DefaultRakaat maps each prayer to its obligatory rakaat count.
var DefaultRakaat = map[PrayerName]int{
	PrayerFajr:    2,
	PrayerDhuhr:   4,
	PrayerAsr:     4,
	PrayerMaghrib: 3,
	PrayerIsha:    4,
	PrayerTest:    2,
}

// Valid reports whether p is a known prayer name (including the test sentinel).
func (p PrayerName) Valid() bool {
	switch p {
	case PrayerFajr, PrayerDhuhr, PrayerAsr, PrayerMaghrib, PrayerIsha, PrayerTest:
		return true
	}
	return false
}

// CompletionStatus represents the per-day outcome for a prayer
type CompletionStatus string

const (
	CompletionStatusPending  CompletionStatus = "pending"
	CompletionStatusComplete CompletionStatus = "complete"
	CompletionStatusMissed   CompletionStatus = "missed"
)

// CompletionType records how a lock episode legitimately ended
type CompletionType string

const (
	CompletionPinVerified     CompletionType = "pin_verified"
	CompletionPrayerPerformed CompletionType = "prayer_performed"
	CompletionAutoExpired     CompletionType = "auto_expired"
)

// LockState is the single authoritative "is a lock active" record.
// It is persisted and read directly by the guardian, both watchdogs and
// the dispatcher; no component may assume an in-memory copy is current.
//
// When Active is false the Prayer*/Rakaat fields are stale and must not be
// used for recovery; recovery reads the last-valid snapshot instead.
type LockState struct {
	Active               bool
	EpisodeID            string // stamped on activation, stable across an episode
	PrayerName           PrayerName
	RakaatCount          int
	PrayerTime           time.Time // scheduled trigger time of this episode
	PinVerified          bool
	PrayerComplete       bool
	BypassSuspected      bool
	LastUnlockTime       time.Time
	VeryRecentUnlockTime time.Time
	ActivatedAt          time.Time
	UpdatedAt            time.Time
}

// SameEpisode reports whether the state describes the given (prayer, scheduled time) episode.
func (s *LockState) SameEpisode(prayer PrayerName, scheduledTime time.Time) bool {
	return s.PrayerName == prayer && s.PrayerTime.Unix() == scheduledTime.Unix()
}

// PrayerSnapshot is the last known-good active prayer, written on every
// activation. Recovery falls back to it when the live lock state was never
// durably flushed before a process death.
type PrayerSnapshot struct {
	PrayerName  PrayerName
	RakaatCount int
	PrayerTime  time.Time
	WrittenAt   time.Time
}

// CompletionRecord tracks one prayer's outcome for one calendar day
type CompletionRecord struct {
	PrayerName PrayerName
	Date       time.Time // normalized to start of day in local timezone
	Status     CompletionStatus
	Type       CompletionType
	Timestamp  time.Time
	UpdatedAt  time.Time
}

// OwnerToken is the fenced single-writer arbitration record for the guardian
// singleton. The fence increases on every acquisition so a stale holder from
// a dead process can never block (or race) a fresh launch once the lease
// expires.
type OwnerToken struct {
	ID         string
	Fence      int64
	PrayerName PrayerName
	PrayerTime time.Time
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the token's lease has lapsed at the given time.
func (t *OwnerToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AuditEntry records an administrative or recovery-relevant state transition
type AuditEntry struct {
	ID         string
	Action     string // "activate", "clear", "force_clear", "bypass_recovery", ...
	PrayerName PrayerName
	Reason     string
	Detail     string
	At         time.Time
}

// TriggerAction identifies what a fired alarm should do
type TriggerAction string

const (
	TriggerNotify   TriggerAction = "notify"
	TriggerLock     TriggerAction = "lock"
	TriggerUnlock   TriggerAction = "unlock"
	TriggerAdhan    TriggerAction = "adhan"
	TriggerRelaunch TriggerAction = "relaunch"
)

// Trigger is the payload carried by a registered alarm and delivered to the
// dispatcher when it fires. Relaunch triggers carry PrayerName/RakaatCount
// directly from the recovery requester rather than being recomputed.
type Trigger struct {
	Action        TriggerAction
	PrayerName    PrayerName
	RakaatCount   int
	ScheduledTime time.Time
}

// Validation errors. These are never retried; a launch carrying them is
// aborted immediately.
var (
	ErrInvalidPrayerName  = errors.New("invalid or missing prayer name")
	ErrInvalidRakaatCount = errors.New("rakaat count must be positive")
	ErrGuardianActive     = errors.New("another guardian instance holds the lock")
	ErrTokenNotHeld       = errors.New("owner token not held")
	ErrLockNotActive      = errors.New("no lock is currently active")
)

// Validate validates a Trigger before dispatch
func (t *Trigger) Validate() error {
	if !t.PrayerName.Valid() {
		return ErrInvalidPrayerName
	}
	if t.Action == TriggerLock || t.Action == TriggerRelaunch {
		if t.RakaatCount <= 0 {
			return ErrInvalidRakaatCount
		}
	}
	return nil
}

// NormalizeDate truncates t to the start of its calendar day in loc
func NormalizeDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
