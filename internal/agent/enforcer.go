package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/clock"
)

const (
	// lockDebounce prevents spamming lock calls
	lockDebounce = 5 * time.Second
)

// EnforcerState tracks the current enforcement state
type EnforcerState struct {
	LastPrayer         string     // Prayer of the last seen episode
	LastPrayerTime     *time.Time // Scheduled time of the last seen episode
	Announced          bool       // Whether the prayer announcement was shown for this episode
	LastLockTime       *time.Time // When we last locked (debounce)
	LastSuccessfulPoll *time.Time // For network error grace period
	NetworkErrorSince  *time.Time // When network errors started
	LastKnownActive    bool       // Lock state from the last successful poll
}

// Enforcer manages the enforcement loop
type Enforcer struct {
	client   GuardClient
	platform Platform
	clock    clock.Clock
	config   *Config
	state    EnforcerState
	logger   *slog.Logger
	stopChan chan struct{}
	mu       sync.Mutex
}

// NewEnforcer creates a new enforcer
func NewEnforcer(client GuardClient, platform Platform, clk clock.Clock, config *Config, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		client:   client,
		platform: platform,
		clock:    clk,
		config:   config,
		state:    EnforcerState{},
		logger:   logger.With("component", "enforcer"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the enforcement loop (blocking)
func (e *Enforcer) Start(ctx context.Context) {
	e.logger.Info("starting enforcement loop",
		"poll_interval", e.config.PollInterval,
		"grace_period", e.config.GracePeriod,
	)

	ticker := e.clock.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	// Do an initial poll immediately
	e.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("enforcement loop stopped (context cancelled)")
			return
		case <-e.stopChan:
			e.logger.Info("enforcement loop stopped")
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// Stop signals the enforcer to stop
func (e *Enforcer) Stop() {
	close(e.stopChan)
}

// poll performs a single poll and processes the result
func (e *Enforcer) poll(ctx context.Context) {
	status, err := e.client.GetLockStatus(ctx)
	if err != nil {
		e.handleNetworkError(err)
		return
	}

	enforcing := e.processStatus(status)

	// The heartbeat doubles as the daemon's visibility signal: while
	// enforcing, this agent IS the lock screen.
	if err := e.client.Heartbeat(ctx, enforcing, enforcing); err != nil {
		e.logger.Debug("heartbeat failed", "error", err)
	}
}

// processStatus handles a successful poll result and reports whether the
// agent is currently enforcing a lock.
func (e *Enforcer) processStatus(status *LockStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	// Clear network error state on successful poll
	e.state.LastSuccessfulPoll = &now
	e.state.NetworkErrorSince = nil
	e.state.LastKnownActive = status.LockActive

	if !status.LockActive {
		e.logger.Debug("no active lock, allowing usage")
		return false
	}

	// Detect a new episode by prayer identity
	if e.state.LastPrayer != status.Prayer || !sameTime(e.state.LastPrayerTime, status.PrayerTime) {
		e.logger.Info("new lock episode detected",
			"prayer", status.Prayer,
			"prayer_time", status.PrayerTime,
		)
		e.state.LastPrayer = status.Prayer
		e.state.LastPrayerTime = status.PrayerTime
		e.state.Announced = false
	}

	if !e.state.Announced {
		e.showAnnouncement(status.Prayer)
		e.state.Announced = true
	}

	e.tryLock(now)
	return true
}

// handleNetworkError implements fail-closed with grace period. Failing
// closed only applies when the last known state was an active lock; an
// unreachable daemon with no lock due keeps the workstation usable.
func (e *Enforcer) handleNetworkError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	e.logger.Warn("network error polling lock status", "error", err)

	if e.state.NetworkErrorSince == nil {
		e.state.NetworkErrorSince = &now
	}

	if !e.state.LastKnownActive {
		return
	}

	errorDuration := now.Sub(*e.state.NetworkErrorSince)
	if errorDuration < e.config.GracePeriod {
		if e.state.LastSuccessfulPoll != nil {
			timeSinceSuccess := now.Sub(*e.state.LastSuccessfulPoll)
			if timeSinceSuccess < e.config.GracePeriod {
				e.logger.Debug("within grace period, continuing",
					"error_duration", errorDuration,
					"since_last_success", timeSinceSuccess,
				)
				return
			}
		}
	}

	e.logger.Warn("grace period exceeded with an active lock, locking workstation (fail-closed)",
		"error_duration", errorDuration,
		"grace_period", e.config.GracePeriod,
	)
	e.tryLock(now)
}

// tryLock attempts to lock the workstation with debouncing
func (e *Enforcer) tryLock(now time.Time) {
	if e.state.LastLockTime != nil {
		timeSinceLock := now.Sub(*e.state.LastLockTime)
		if timeSinceLock < lockDebounce {
			e.logger.Debug("lock debounced",
				"time_since_last", timeSinceLock,
				"debounce", lockDebounce,
			)
			return
		}
	}

	if err := e.platform.LockWorkstation(); err != nil {
		e.logger.Error("failed to lock workstation", "error", err)
		return
	}

	e.state.LastLockTime = &now
}

// showAnnouncement displays the prayer announcement
func (e *Enforcer) showAnnouncement(prayer string) {
	title := "Prayer Time"
	message := fmt.Sprintf("It is time for %s. The screen stays locked until the prayer is done.", prayer)

	if err := e.platform.ShowWarningNotification(title, message); err != nil {
		e.logger.Error("failed to show announcement", "error", err)
	}
}

// GetState returns a copy of the current state (for testing/debugging)
func (e *Enforcer) GetState() EnforcerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
