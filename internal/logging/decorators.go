package logging

import (
	"context"
	"log/slog"
	"time"

	"salahguard/internal/core"
)

// LockServiceLogger wraps a LockService and logs all method calls.
// Mutating operations log at info, reads at debug.
type LockServiceLogger struct {
	service core.LockService
	logger  *slog.Logger
}

// NewLockServiceLogger creates a new logging decorator for LockService
func NewLockServiceLogger(service core.LockService, logger *slog.Logger) core.LockService {
	return &LockServiceLogger{
		service: service,
		logger:  logger.With("interface", "LockService"),
	}
}

func (l *LockServiceLogger) ActivateLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	start := time.Now()
	l.logger.Info("ActivateLock called",
		"prayer", prayer,
		"rakaat", rakaatCount,
		"scheduled_time", scheduledTime)

	err := l.service.ActivateLock(ctx, prayer, rakaatCount, scheduledTime)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ActivateLock failed",
			"prayer", prayer,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("ActivateLock completed",
		"prayer", prayer,
		"duration", duration)
	return nil
}

func (l *LockServiceLogger) ClearLock(ctx context.Context, reason core.CompletionType) error {
	start := time.Now()
	l.logger.Info("ClearLock called", "reason", reason)

	err := l.service.ClearLock(ctx, reason)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ClearLock failed",
			"reason", reason,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("ClearLock completed",
		"reason", reason,
		"duration", duration)
	return nil
}

func (l *LockServiceLogger) ForceClear(ctx context.Context, reason string) error {
	start := time.Now()
	l.logger.Warn("ForceClear called", "reason", reason)

	err := l.service.ForceClear(ctx, reason)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ForceClear failed",
			"reason", reason,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Warn("ForceClear completed",
		"reason", reason,
		"duration", duration)
	return nil
}

func (l *LockServiceLogger) IsLockActive(ctx context.Context) (bool, error) {
	active, err := l.service.IsLockActive(ctx)
	if err != nil {
		l.logger.Error("IsLockActive failed", "error", err)
		return false, err
	}
	return active, nil
}

func (l *LockServiceLogger) ActivePrayer(ctx context.Context) (core.PrayerName, int, error) {
	prayer, rakaat, err := l.service.ActivePrayer(ctx)
	if err != nil {
		l.logger.Debug("ActivePrayer failed", "error", err)
		return prayer, rakaat, err
	}
	return prayer, rakaat, nil
}

func (l *LockServiceLogger) LastValidPrayer(ctx context.Context) (core.PrayerName, int, error) {
	prayer, rakaat, err := l.service.LastValidPrayer(ctx)
	if err != nil {
		l.logger.Error("LastValidPrayer failed", "error", err)
		return prayer, rakaat, err
	}
	return prayer, rakaat, nil
}

func (l *LockServiceLogger) DetectBypass(ctx context.Context) (bool, error) {
	start := time.Now()
	suspected, err := l.service.DetectBypass(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("DetectBypass failed",
			"duration", duration,
			"error", err)
		return false, err
	}

	if suspected {
		l.logger.Warn("DetectBypass flagged a bypass", "duration", duration)
	}
	return suspected, nil
}

func (l *LockServiceLogger) ClearBypassDetection() {
	l.logger.Debug("ClearBypassDetection called")
	l.service.ClearBypassDetection()
}

func (l *LockServiceLogger) MarkPrayerComplete(ctx context.Context, prayer core.PrayerName, completionType core.CompletionType) error {
	start := time.Now()
	l.logger.Info("MarkPrayerComplete called",
		"prayer", prayer,
		"completion_type", completionType)

	err := l.service.MarkPrayerComplete(ctx, prayer, completionType)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("MarkPrayerComplete failed",
			"prayer", prayer,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("MarkPrayerComplete completed",
		"prayer", prayer,
		"duration", duration)
	return nil
}

func (l *LockServiceLogger) MarkPrayerMissed(ctx context.Context, prayer core.PrayerName) error {
	start := time.Now()
	l.logger.Info("MarkPrayerMissed called", "prayer", prayer)

	err := l.service.MarkPrayerMissed(ctx, prayer)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("MarkPrayerMissed failed",
			"prayer", prayer,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("MarkPrayerMissed completed",
		"prayer", prayer,
		"duration", duration)
	return nil
}

func (l *LockServiceLogger) IsPrayerComplete(ctx context.Context, prayer core.PrayerName) (bool, error) {
	complete, err := l.service.IsPrayerComplete(ctx, prayer)
	if err != nil {
		l.logger.Error("IsPrayerComplete failed",
			"prayer", prayer,
			"error", err)
		return false, err
	}
	return complete, nil
}

func (l *LockServiceLogger) LockState(ctx context.Context) (*core.LockState, error) {
	state, err := l.service.LockState(ctx)
	if err != nil {
		l.logger.Error("LockState failed", "error", err)
		return nil, err
	}
	return state, nil
}

func (l *LockServiceLogger) TodayCompletions(ctx context.Context) ([]*core.CompletionRecord, error) {
	start := time.Now()
	records, err := l.service.TodayCompletions(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("TodayCompletions failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("TodayCompletions completed",
		"count", len(records),
		"duration", duration)
	return records, nil
}

func (l *LockServiceLogger) ListAudit(ctx context.Context, limit int) ([]*core.AuditEntry, error) {
	start := time.Now()
	entries, err := l.service.ListAudit(ctx, limit)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ListAudit failed",
			"limit", limit,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("ListAudit completed",
		"count", len(entries),
		"duration", duration)
	return entries, nil
}
