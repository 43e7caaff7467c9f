// Package dispatch converts fired alarm triggers into one-time, idempotent
// actions. Every user-visible action is guarded by a durable dedup ledger so
// a retried or duplicated trigger never notifies, locks or plays adhan twice
// for the same scheduled instant.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/clock"
	"salahguard/internal/core"
)

const (
	maxAttempts = 3

	// retryBase is the backoff unit for transient action failures; the
	// delay doubles per attempt. Retries go through the work-queue
	// capability, never a tight in-process loop.
	retryBase = 5 * time.Second

	// validationCooldown suppresses relaunches carrying the same invalid
	// payload for this long after a validation failure.
	validationCooldown = 10 * time.Minute

	// wakeLockBudget bounds how long the dispatch wake-lock may be held.
	wakeLockBudget = 30 * time.Second
)

// ErrTransient tags action failures that look like transient I/O or OS
// conditions; only these are retried.
var ErrTransient = errors.New("transient failure")

// IsTransient reports whether an action error should be retried
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// DedupStore is the durable already-handled ledger
type DedupStore interface {
	MarkHandled(ctx context.Context, key string, at time.Time) (bool, error)
	PurgeDedupBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ledger is the slice of the lock manager the dispatcher drives
type Ledger interface {
	ActivateLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error
	AutoExpire(ctx context.Context, prayer core.PrayerName, scheduledTime time.Time) error
}

// Actions performs the user-visible side effects of a trigger
type Actions interface {
	ShowNotification(ctx context.Context, prayer core.PrayerName, scheduledTime time.Time) error
	PlayAdhan(ctx context.Context, prayer core.PrayerName) error
	LaunchLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error
	Relaunch(ctx context.Context, prayer core.PrayerName, rakaatCount int) error
}

// WakeLock is the short-lived wake-lock capability held across the
// synchronous dedup-check-and-dispatch. Release must be safe to call twice.
type WakeLock interface {
	Acquire(budget time.Duration) (release func())
}

// NoopWakeLock satisfies WakeLock on platforms without one
type NoopWakeLock struct{}

// Acquire returns a no-op release
func (NoopWakeLock) Acquire(time.Duration) func() { return func() {} }

// Requeuer is the work-queue capability used for bounded retries
type Requeuer interface {
	Requeue(trigger core.Trigger, attempt int, delay time.Duration)
}

// Dispatcher routes fired triggers to their actions exactly once
type Dispatcher struct {
	dedup    DedupStore
	ledger   Ledger
	actions  Actions
	wakeLock WakeLock
	requeue  Requeuer
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	badUntil map[string]time.Time // validation-failure cooldowns per episode
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(dedup DedupStore, ledger Ledger, actions Actions, wakeLock WakeLock, requeue Requeuer, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if wakeLock == nil {
		wakeLock = NoopWakeLock{}
	}
	return &Dispatcher{
		dedup:    dedup,
		ledger:   ledger,
		actions:  actions,
		wakeLock: wakeLock,
		requeue:  requeue,
		clock:    clk,
		logger:   logger.With("component", "dispatcher"),
		badUntil: make(map[string]time.Time),
	}
}

// DedupKey builds the durable dedup-ledger key for a trigger. Scheduled
// times are bucketed to the minute so a primary alarm and a retry for the
// same instant collapse onto one key.
func DedupKey(t core.Trigger) string {
	return fmt.Sprintf("%s:%s:%d", t.Action, t.PrayerName, t.ScheduledTime.Truncate(time.Minute).Unix())
}

// HandleTrigger processes a freshly fired trigger
func (d *Dispatcher) HandleTrigger(ctx context.Context, t core.Trigger) error {
	return d.HandleAttempt(ctx, t, 0)
}

// HandleAttempt processes a trigger on its nth delivery attempt
func (d *Dispatcher) HandleAttempt(ctx context.Context, t core.Trigger, attempt int) error {
	release := d.wakeLock.Acquire(wakeLockBudget)
	defer release()

	if err := t.Validate(); err != nil {
		// Validation failures are never retried. The cooldown keeps other
		// components from immediately relaunching with the same bad data.
		d.setValidationCooldown(t)
		d.logger.Error("trigger failed validation, aborting",
			"action", t.Action, "prayer", t.PrayerName, "error", err)
		return err
	}

	if d.inValidationCooldown(t) {
		d.logger.Warn("trigger suppressed by validation cooldown",
			"action", t.Action, "prayer", t.PrayerName)
		return nil
	}

	// Relaunch is the recovery path: it bypasses the dedup ledger and is
	// made safe by the watchdog's minimum relaunch interval and the
	// guardian's own idempotent launch.
	if t.Action != core.TriggerRelaunch {
		inserted, err := d.dedup.MarkHandled(ctx, DedupKey(t), d.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to mark trigger handled: %w", err)
		}
		if !inserted {
			d.logger.Debug("trigger already handled, skipping",
				"action", t.Action, "prayer", t.PrayerName, "scheduled_time", t.ScheduledTime)
			return nil
		}
	}

	// Marking strictly precedes acting: if the action crashes partway, a
	// retry must not re-trigger the user-visible effect.
	if err := d.perform(ctx, t); err != nil {
		d.logger.Error("trigger action failed",
			"action", t.Action, "prayer", t.PrayerName, "attempt", attempt, "error", err)

		if IsTransient(err) && attempt+1 < maxAttempts && d.requeue != nil {
			delay := retryBase << attempt
			d.logger.Info("requeueing transient failure",
				"action", t.Action, "prayer", t.PrayerName,
				"next_attempt", attempt+1, "delay", delay)
			d.requeue.Requeue(t, attempt+1, delay)
			return nil
		}
		return err
	}

	return nil
}

func (d *Dispatcher) perform(ctx context.Context, t core.Trigger) error {
	switch t.Action {
	case core.TriggerNotify:
		return d.actions.ShowNotification(ctx, t.PrayerName, t.ScheduledTime)

	case core.TriggerAdhan:
		return d.actions.PlayAdhan(ctx, t.PrayerName)

	case core.TriggerLock:
		if err := d.ledger.ActivateLock(ctx, t.PrayerName, t.RakaatCount, t.ScheduledTime); err != nil {
			return fmt.Errorf("failed to activate lock: %w", err)
		}
		return d.actions.LaunchLock(ctx, t.PrayerName, t.RakaatCount, t.ScheduledTime)

	case core.TriggerUnlock:
		return d.ledger.AutoExpire(ctx, t.PrayerName, t.ScheduledTime)

	case core.TriggerRelaunch:
		return d.actions.Relaunch(ctx, t.PrayerName, t.RakaatCount)

	default:
		return fmt.Errorf("unknown trigger action %q", t.Action)
	}
}

// PurgeDedup removes dedup entries older than 24 hours
func (d *Dispatcher) PurgeDedup(ctx context.Context) error {
	cutoff := d.clock.Now().Add(-24 * time.Hour)
	purged, err := d.dedup.PurgeDedupBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge dedup ledger: %w", err)
	}
	if purged > 0 {
		d.logger.Info("purged dedup entries", "count", purged)
	}
	return nil
}

func (d *Dispatcher) setValidationCooldown(t core.Trigger) {
	key := fmt.Sprintf("%s:%d", t.PrayerName, t.ScheduledTime.Unix())
	d.mu.Lock()
	d.badUntil[key] = d.clock.Now().Add(validationCooldown)
	d.mu.Unlock()
}

func (d *Dispatcher) inValidationCooldown(t core.Trigger) bool {
	key := fmt.Sprintf("%s:%d", t.PrayerName, t.ScheduledTime.Unix())
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.badUntil[key]
	if !ok {
		return false
	}
	if d.clock.Now().After(until) {
		delete(d.badUntil, key)
		return false
	}
	return true
}
