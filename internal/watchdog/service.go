// Package watchdog contains the two independent monitors that detect "a
// lock should be visible but is not" and drive recovery through the lock
// manager. The two watchdogs never coordinate directly; their recovery
// actions are idempotent commands against the shared ledger.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/clock"
	"salahguard/internal/core"
	"salahguard/internal/praytime"
)

const (
	// Poll intervals adapt to observed state: tight while an episode is
	// active but not yet stabilized, relaxed once stable, and slow during
	// a post-storm cooldown.
	activeInterval   = 2 * time.Second
	stableInterval   = 15 * time.Second
	cooldownInterval = 30 * time.Second

	// invisibleThreshold is how many consecutive not-foreground ticks are
	// required before recovery triggers.
	invisibleThreshold = 5

	// stableThreshold is how many consecutive foreground ticks mark the
	// episode stabilized.
	stableThreshold = 5

	// minRelaunchInterval spaces recovery relaunches to avoid relaunch
	// storms against a user rapidly toggling the screen.
	minRelaunchInterval = 2 * time.Minute

	// bypassLimit consecutive recoveries arm the cooldown window.
	bypassLimit    = 3
	bypassCooldown = 5 * time.Minute

	// sweepInterval paces the missed-window check that catches prayers
	// whose exact trigger moment the device slept through.
	sweepInterval = 15 * time.Minute
)

// Ledger is the slice of the lock manager the watchdog drives
type Ledger interface {
	IsLockActive(ctx context.Context) (bool, error)
	LockState(ctx context.Context) (*core.LockState, error)
	DetectBypass(ctx context.Context) (bool, error)
	ClearBypassDetection()
	LastValidPrayer(ctx context.Context) (core.PrayerName, int, error)
	ActivateLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error
	IsPrayerComplete(ctx context.Context, prayer core.PrayerName) (bool, error)
	RecordRecovery(ctx context.Context, prayer core.PrayerName, detail string)
}

// Inspector reports whether the lock screen is the foreground-most task
type Inspector interface {
	IsLockForeground() bool
}

// Relauncher requests a guardian recovery launch
type Relauncher interface {
	Relaunch(prayer core.PrayerName, rakaatCount int) error
}

// Windows reports the prayer window containing a given time, if any
type Windows interface {
	CurrentWindow(now time.Time) (praytime.PrayerTime, time.Time, bool)
}

// ServiceWatchdog is the long-lived foreground-service monitor: an
// adaptive-interval poll loop comparing intended state (lock active in the
// ledger) against observed state (lock screen foreground).
type ServiceWatchdog struct {
	ledger    Ledger
	inspector Inspector
	relaunch  Relauncher
	windows   Windows
	clock     clock.Clock
	logger    *slog.Logger

	mu             sync.Mutex
	invisibleTicks int
	visibleTicks   int
	stabilized     bool
	lastRelaunch   time.Time
	lastSweep      time.Time

	// Independent bypass counter with its own cooldown, deliberately
	// separate from the ledger's recovery marker: the visibility heuristic
	// and the explicit bypass flag must not share one backoff or either
	// could mask the other.
	bypassCount   int
	cooldownUntil time.Time

	// Last known active prayer, cached in watchdog memory. Preferred over
	// re-reading persisted state at relaunch time: lower latency and no
	// race against a write in flight.
	cachedPrayer core.PrayerName
	cachedRakaat int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewServiceWatchdog creates the foreground-service watchdog
func NewServiceWatchdog(ledger Ledger, inspector Inspector, relaunch Relauncher, windows Windows, clk clock.Clock, logger *slog.Logger) *ServiceWatchdog {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceWatchdog{
		ledger:    ledger,
		inspector: inspector,
		relaunch:  relaunch,
		windows:   windows,
		clock:     clk,
		logger:    logger.With("component", "watchdog"),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the poll loop (blocking until Stop or ctx cancellation)
func (w *ServiceWatchdog) Start(ctx context.Context) {
	w.logger.Info("watchdog started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped (context cancelled)")
			return
		case <-w.stopChan:
			w.logger.Info("watchdog stopped")
			return
		case <-w.clock.After(w.interval()):
			w.Tick(ctx)
		}
	}
}

// Stop signals the watchdog to stop
func (w *ServiceWatchdog) Stop() {
	close(w.stopChan)
}

func (w *ServiceWatchdog) interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if now.Before(w.cooldownUntil) {
		return cooldownInterval
	}
	if w.stabilized {
		return stableInterval
	}
	return activeInterval
}

// Tick performs one watchdog cycle. A panic in a tick is contained to that
// tick; the loop always continues on its next schedule.
func (w *ServiceWatchdog) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watchdog tick panicked", "panic", r)
		}
	}()

	active, err := w.ledger.IsLockActive(ctx)
	if err != nil {
		w.logger.Error("failed to read lock state", "error", err)
		return
	}

	if !active {
		w.mu.Lock()
		w.invisibleTicks = 0
		w.visibleTicks = 0
		w.stabilized = false
		w.mu.Unlock()
		w.maybeSweep(ctx)
		return
	}

	state, err := w.ledger.LockState(ctx)
	if err != nil {
		w.logger.Error("failed to read lock state", "error", err)
		return
	}
	if state.PinVerified || state.PrayerComplete {
		// Legitimate exit already recorded; the clear is in flight.
		return
	}

	w.mu.Lock()
	w.cachedPrayer = state.PrayerName
	w.cachedRakaat = state.RakaatCount
	w.mu.Unlock()

	if w.inspector.IsLockForeground() {
		w.mu.Lock()
		w.invisibleTicks = 0
		w.visibleTicks++
		if w.visibleTicks >= stableThreshold {
			w.stabilized = true
		}
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.visibleTicks = 0
	w.stabilized = false
	w.invisibleTicks++
	invisible := w.invisibleTicks
	w.mu.Unlock()

	w.logger.Debug("lock active but not foreground", "consecutive", invisible, "prayer", state.PrayerName)

	if invisible < invisibleThreshold {
		return
	}

	w.recover(ctx)
}

func (w *ServiceWatchdog) recover(ctx context.Context) {
	now := w.clock.Now()

	w.mu.Lock()
	if now.Before(w.cooldownUntil) {
		w.mu.Unlock()
		w.logger.Debug("recovery suppressed by cooldown", "until", w.cooldownUntil)
		return
	}
	if !w.lastRelaunch.IsZero() && now.Sub(w.lastRelaunch) < minRelaunchInterval {
		w.mu.Unlock()
		w.logger.Debug("recovery suppressed by minimum relaunch interval",
			"since_last", now.Sub(w.lastRelaunch))
		return
	}
	prayer := w.cachedPrayer
	rakaat := w.cachedRakaat
	w.mu.Unlock()

	if _, err := w.ledger.DetectBypass(ctx); err != nil {
		w.logger.Error("bypass detection failed", "error", err)
	}

	if !prayer.Valid() || rakaat <= 0 {
		var err error
		prayer, rakaat, err = w.ledger.LastValidPrayer(ctx)
		if err != nil {
			w.logger.Error("failed to read last valid prayer", "error", err)
			return
		}
		if !prayer.Valid() || rakaat <= 0 {
			w.logger.Warn("no valid prayer to recover, skipping relaunch")
			return
		}
	}

	w.logger.Warn("bypass confirmed, relaunching guardian", "prayer", prayer, "rakaat", rakaat)
	w.ledger.RecordRecovery(ctx, prayer, "watchdog visibility recovery")

	if err := w.relaunch.Relaunch(prayer, rakaat); err != nil {
		w.logger.Error("relaunch failed", "prayer", prayer, "error", err)
	}

	// Allow the next detection cycle to re-trigger if the bypass persists.
	w.ledger.ClearBypassDetection()

	w.mu.Lock()
	w.lastRelaunch = now
	w.invisibleTicks = 0
	w.bypassCount++
	if w.bypassCount >= bypassLimit {
		w.cooldownUntil = now.Add(bypassCooldown)
		w.bypassCount = 0
		w.logger.Warn("repeated bypass recoveries, entering cooldown", "until", w.cooldownUntil)
	}
	w.mu.Unlock()
}

// maybeSweep covers the device-slept-through-the-trigger case: a prayer
// whose window we are currently inside, with no active lock and no
// completion, gets its lock activated late.
func (w *ServiceWatchdog) maybeSweep(ctx context.Context) {
	now := w.clock.Now()

	w.mu.Lock()
	if !w.lastSweep.IsZero() && now.Sub(w.lastSweep) < sweepInterval {
		w.mu.Unlock()
		return
	}
	w.lastSweep = now
	w.mu.Unlock()

	prayer, windowEnd, ok := w.windows.CurrentWindow(now)
	if !ok {
		return
	}

	complete, err := w.ledger.IsPrayerComplete(ctx, prayer.Name)
	if err != nil {
		w.logger.Error("failed to check completion during sweep", "prayer", prayer.Name, "error", err)
		return
	}
	if complete {
		return
	}

	w.logger.Info("in prayer window with no active lock, activating late",
		"prayer", prayer.Name, "window_end", windowEnd)

	if err := w.ledger.ActivateLock(ctx, prayer.Name, prayer.RakaatCount, prayer.Time); err != nil {
		w.logger.Error("late activation failed", "prayer", prayer.Name, "error", err)
		return
	}
	if err := w.relaunch.Relaunch(prayer.Name, prayer.RakaatCount); err != nil {
		w.logger.Error("late guardian launch failed", "prayer", prayer.Name, "error", err)
	}
}
