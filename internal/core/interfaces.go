package core

import (
	"context"
	"time"
)

// LockService defines the contract for lock-state management, consumed by
// the API layer and the logging decorator.
type LockService interface {
	ActivateLock(ctx context.Context, prayer PrayerName, rakaatCount int, scheduledTime time.Time) error
	ClearLock(ctx context.Context, reason CompletionType) error
	ForceClear(ctx context.Context, reason string) error
	IsLockActive(ctx context.Context) (bool, error)
	ActivePrayer(ctx context.Context) (PrayerName, int, error)
	LastValidPrayer(ctx context.Context) (PrayerName, int, error)
	DetectBypass(ctx context.Context) (bool, error)
	ClearBypassDetection()
	MarkPrayerComplete(ctx context.Context, prayer PrayerName, completionType CompletionType) error
	MarkPrayerMissed(ctx context.Context, prayer PrayerName) error
	IsPrayerComplete(ctx context.Context, prayer PrayerName) (bool, error)
	LockState(ctx context.Context) (*LockState, error)
	TodayCompletions(ctx context.Context) ([]*CompletionRecord, error)
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)
}
