package watchdog

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ServiceHandle lets the periodic watchdog restart the foreground poll
// service if it died.
type ServiceHandle interface {
	Running() bool
	Restart()
}

// Permissions checks and re-requests the pinning capability
type Permissions interface {
	Granted() bool
	Request() error
}

// Sessions reports whether a guardian session currently runs
type Sessions interface {
	Running() bool
}

// Environment answers the "is it safe to surface UI right now" questions
// that gate a deferred recovery launch.
type Environment interface {
	JustBooted() bool
	InForeground() bool
}

// Purger removes dedup ledger entries older than the retention cutoff
type Purger interface {
	PurgeDedup(ctx context.Context) error
}

// PeriodicWatchdog is the second, independent safety net: a cron-driven
// job that survives the poll service dying, verifies the whole protection
// stack, and runs housekeeping.
type PeriodicWatchdog struct {
	cron     *cron.Cron
	service  ServiceHandle
	perms    Permissions
	sessions Sessions
	env      Environment
	ledger   Ledger
	relaunch Relauncher
	purger   Purger
	logger   *slog.Logger
}

// NewPeriodicWatchdog creates the cron-backed watchdog
func NewPeriodicWatchdog(service ServiceHandle, perms Permissions, sessions Sessions, env Environment, ledger Ledger, relaunch Relauncher, purger Purger, logger *slog.Logger) *PeriodicWatchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodicWatchdog{
		cron:     cron.New(),
		service:  service,
		perms:    perms,
		sessions: sessions,
		env:      env,
		ledger:   ledger,
		relaunch: relaunch,
		purger:   purger,
		logger:   logger.With("component", "periodic_watchdog"),
	}
}

// Start registers the cron jobs and begins scheduling
func (p *PeriodicWatchdog) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc("@every 3m", func() { p.Verify(ctx) }); err != nil {
		return err
	}
	if _, err := p.cron.AddFunc("@every 1h", func() { p.housekeep(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	p.logger.Info("periodic watchdog started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish
func (p *PeriodicWatchdog) Stop() {
	stopCtx := p.cron.Stop()
	<-stopCtx.Done()
	p.logger.Info("periodic watchdog stopped")
}

// Verify is one full protection-stack check. Each concern is checked
// independently so one failure never hides another.
func (p *PeriodicWatchdog) Verify(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("periodic verify panicked", "panic", r)
		}
	}()

	if !p.service.Running() {
		p.logger.Warn("poll service not running, restarting")
		p.service.Restart()
	}

	if !p.perms.Granted() {
		p.logger.Warn("pinning permission revoked, re-requesting")
		if err := p.perms.Request(); err != nil {
			p.logger.Error("permission re-request failed", "error", err)
		}
	}

	p.verifyGuardian(ctx)
}

// verifyGuardian covers the case where a lock is intended but no guardian
// session exists at all (process killed between activation and pinning).
func (p *PeriodicWatchdog) verifyGuardian(ctx context.Context) {
	active, err := p.ledger.IsLockActive(ctx)
	if err != nil {
		p.logger.Error("failed to read lock state", "error", err)
		return
	}
	if !active || p.sessions.Running() {
		return
	}

	state, err := p.ledger.LockState(ctx)
	if err != nil {
		p.logger.Error("failed to read lock state", "error", err)
		return
	}
	if state.PinVerified || state.PrayerComplete {
		return
	}

	// Surfacing UI from a background job is disruptive; only do it right
	// after boot or when the app already owns the foreground. Otherwise
	// the foreground watchdog picks it up on its next visible window.
	if !p.env.JustBooted() && !p.env.InForeground() {
		p.logger.Info("guardian missing but launch deferred",
			"prayer", state.PrayerName)
		return
	}

	prayer := state.PrayerName
	rakaat := state.RakaatCount
	if !prayer.Valid() || rakaat <= 0 {
		prayer, rakaat, err = p.ledger.LastValidPrayer(ctx)
		if err != nil || !prayer.Valid() {
			p.logger.Error("no valid prayer for guardian recovery", "error", err)
			return
		}
	}

	p.logger.Warn("lock active with no guardian session, relaunching", "prayer", prayer)
	p.ledger.RecordRecovery(ctx, prayer, "periodic watchdog recovery")
	if err := p.relaunch.Relaunch(prayer, rakaat); err != nil {
		p.logger.Error("guardian relaunch failed", "prayer", prayer, "error", err)
	}
}

func (p *PeriodicWatchdog) housekeep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("housekeeping panicked", "panic", r)
		}
	}()

	if err := p.purger.PurgeDedup(ctx); err != nil {
		p.logger.Error("dedup purge failed", "error", err)
	}
}
