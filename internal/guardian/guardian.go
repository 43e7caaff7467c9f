// Package guardian owns the "is the lock screen actually visible" property
// while a lock episode is active. It pins the task, polices its own
// visibility, and exits only through a legitimate unlock observed in the
// ledger.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"salahguard/internal/clock"
	"salahguard/internal/core"
)

// State is the guardian lifecycle state
type State int

const (
	StateUninitialized State = iota
	StateValidating
	StatePinned
	StateAwaitingCompletion
	StateUnlocking
	StateFinished
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValidating:
		return "validating"
	case StatePinned:
		return "pinned"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateUnlocking:
		return "unlocking"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

const (
	pinAttempts   = 3
	pinRetryDelay = 2 * time.Second

	// checkInterval paces the self-check loop in AwaitingCompletion
	checkInterval = 2 * time.Second

	// invisibleLimit is how many consecutive failed visibility checks are
	// tolerated before the guardian re-asserts itself.
	invisibleLimit = 3
)

// Kiosk is the OS task-pinning capability
type Kiosk interface {
	PinToForeground() error
	Unpin() error
	IsCurrentlyPinned() bool
}

// Inspector reports whether the lock screen is the foreground-most task
type Inspector interface {
	IsLockForeground() bool
}

// ShownStore is the durable "this episode was already shown" ledger
type ShownStore interface {
	MarkHandled(ctx context.Context, key string, at time.Time) (bool, error)
}

// Rewarder requests an opportunistic reward presentation
type Rewarder interface {
	RequestShow(prayer core.PrayerName)
}

// Guardian drives one lock episode from validation to a legitimate exit
type Guardian struct {
	ledger    *core.LockManager
	kiosk     Kiosk
	inspector Inspector
	shown     ShownStore
	rewards   Rewarder
	clock     clock.Clock
	logger    *slog.Logger

	state    State
	token    *core.OwnerToken
	degraded bool
}

// New creates a guardian for a single episode. A guardian is single-use:
// Run may be called once.
func New(ledger *core.LockManager, kiosk Kiosk, inspector Inspector, shown ShownStore, rewards Rewarder, clk clock.Clock, logger *slog.Logger) *Guardian {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardian{
		ledger:    ledger,
		kiosk:     kiosk,
		inspector: inspector,
		shown:     shown,
		rewards:   rewards,
		clock:     clk,
		logger:    logger.With("component", "guardian"),
		state:     StateUninitialized,
	}
}

// State returns the current lifecycle state
func (g *Guardian) State() State {
	return g.state
}

// Run drives the episode to completion. relaunch marks a watchdog-initiated
// recovery launch, which skips the already-shown rejection.
//
// On any teardown before a legitimate unlock the ledger's active flag is
// deliberately left set, so the watchdogs can recover the episode.
func (g *Guardian) Run(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time, relaunch bool) error {
	g.state = StateValidating

	if !prayer.Valid() {
		g.logger.Error("rejecting launch with invalid prayer name", "prayer", prayer)
		g.state = StateFinished
		return core.ErrInvalidPrayerName
	}
	if rakaatCount <= 0 {
		g.logger.Error("rejecting launch with invalid rakaat count", "prayer", prayer, "rakaat", rakaatCount)
		g.state = StateFinished
		return core.ErrInvalidRakaatCount
	}

	if !relaunch {
		key := fmt.Sprintf("shown:%s:%d", prayer, scheduledTime.Truncate(time.Minute).Unix())
		inserted, err := g.shown.MarkHandled(ctx, key, g.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to check shown ledger: %w", err)
		}
		if !inserted {
			g.logger.Info("episode already shown, refusing duplicate launch",
				"prayer", prayer, "scheduled_time", scheduledTime)
			g.state = StateFinished
			return nil
		}
	}

	token, err := g.ledger.AcquireGuardian(ctx, prayer, scheduledTime)
	if err != nil {
		if errors.Is(err, core.ErrGuardianActive) {
			g.logger.Info("another guardian holds the owner token, self-terminating", "prayer", prayer)
			g.state = StateFinished
			return nil
		}
		return fmt.Errorf("failed to acquire owner token: %w", err)
	}
	g.token = token

	defer func() {
		// Every teardown path releases the token; the lease bounds the
		// damage if this defer never runs (process death).
		if releaseErr := g.ledger.ReleaseGuardian(context.Background(), token); releaseErr != nil {
			g.logger.Error("failed to release owner token", "error", releaseErr)
		}
		if g.state != StateFinished {
			g.ledger.RecordRecovery(context.Background(), prayer, "guardian torn down before legitimate exit")
			g.logger.Warn("guardian torn down improperly, lock remains active",
				"prayer", prayer, "state", g.state.String())
		}
	}()

	g.pin(prayer)

	if err := g.awaitCompletion(ctx, prayer); err != nil {
		return err
	}

	g.unlock(prayer)
	return nil
}

// pin attempts OS task-pinning with bounded retries. Exhaustion degrades to
// a polling re-assert mode; the guardian never falls back to an unlocked
// state just because pinning failed.
func (g *Guardian) pin(prayer core.PrayerName) {
	g.state = StatePinned

	for attempt := 1; attempt <= pinAttempts; attempt++ {
		err := g.kiosk.PinToForeground()
		if err == nil {
			g.logger.Info("task pinned", "prayer", prayer, "attempt", attempt)
			return
		}
		g.logger.Warn("pin attempt failed", "prayer", prayer, "attempt", attempt, "error", err)
		if attempt < pinAttempts {
			g.clock.Sleep(pinRetryDelay)
		}
	}

	g.degraded = true
	g.logger.Error("pinning exhausted, entering degraded re-assert mode", "prayer", prayer)
}

// awaitCompletion runs the dual self-check loop: visibility policing and
// watching the ledger for an externally recorded legitimate exit.
func (g *Guardian) awaitCompletion(ctx context.Context, prayer core.PrayerName) error {
	g.state = StateAwaitingCompletion

	ticker := g.clock.NewTicker(checkInterval)
	defer ticker.Stop()

	invisible := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := g.ledger.RenewGuardian(ctx, g.token); err != nil {
				g.logger.Warn("failed to renew owner token", "error", err)
			}

			// (a) visibility self-check
			if !g.inspector.IsLockForeground() {
				invisible++
				if invisible >= invisibleLimit {
					g.logger.Warn("lock screen not foreground, re-asserting",
						"prayer", prayer, "consecutive", invisible)
					if err := g.kiosk.PinToForeground(); err != nil {
						g.logger.Error("re-assert failed", "prayer", prayer, "error", err)
					}
					invisible = 0
				}
			} else {
				invisible = 0
			}

			if g.degraded && !g.kiosk.IsCurrentlyPinned() {
				if err := g.kiosk.PinToForeground(); err != nil {
					g.logger.Debug("degraded re-assert failed", "error", err)
				}
			}

			// (b) completion self-check
			state, err := g.ledger.LockState(ctx)
			if err != nil {
				g.logger.Error("failed to read lock state", "error", err)
				continue
			}
			if !state.Active || state.PinVerified || state.PrayerComplete {
				return nil
			}
		}
	}
}

// unlock performs the legitimate exit: the ledger was already cleared by
// whoever verified the PIN or detected completion. The reward is requested
// for the next screen and never blocks the exit.
func (g *Guardian) unlock(prayer core.PrayerName) {
	g.state = StateUnlocking

	if g.rewards != nil {
		g.rewards.RequestShow(prayer)
	}

	if err := g.kiosk.Unpin(); err != nil {
		g.logger.Error("failed to unpin task", "prayer", prayer, "error", err)
	}

	g.state = StateFinished
	g.logger.Info("guardian finished", "prayer", prayer)
}
