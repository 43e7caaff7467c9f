// Package reward integrates the ad/reward provider as a fire-and-forget side
// effect. Nothing here may ever sit on the unlock critical path: the unlock
// proceeds regardless of ad availability, and the reward is requested for
// the next screen only.
package reward

import (
	"log/slog"
	"sync"

	"salahguard/internal/core"
)

// Callbacks receives the provider's async show lifecycle
type Callbacks struct {
	OnShown        func()
	OnDismissed    func()
	OnRewardEarned func()
	OnFailedToShow func(err error)
}

// Provider is the external ad/reward capability
type Provider interface {
	IsAvailable() bool
	Show(cb Callbacks)
}

// Queue requests reward presentation opportunistically after an unlock
type Queue struct {
	provider Provider
	logger   *slog.Logger

	mu      sync.Mutex
	showing bool
}

// NewQueue creates a reward queue. A nil provider disables the feature.
func NewQueue(provider Provider, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{provider: provider, logger: logger.With("component", "reward")}
}

// RequestShow asks the provider to present a reward for a completed prayer.
// Returns immediately; outcomes are logged from the provider callbacks. At
// most one show is in flight at a time, extra requests are dropped.
func (q *Queue) RequestShow(prayer core.PrayerName) {
	if q.provider == nil {
		return
	}

	q.mu.Lock()
	if q.showing {
		q.mu.Unlock()
		return
	}
	q.showing = true
	q.mu.Unlock()

	go func() {
		if !q.provider.IsAvailable() {
			q.logger.Debug("no reward available", "prayer", prayer)
			q.done()
			return
		}

		q.provider.Show(Callbacks{
			OnShown: func() {
				q.logger.Debug("reward shown", "prayer", prayer)
			},
			OnDismissed: func() {
				q.logger.Debug("reward dismissed", "prayer", prayer)
				q.done()
			},
			OnRewardEarned: func() {
				q.logger.Info("reward earned", "prayer", prayer)
			},
			OnFailedToShow: func(err error) {
				q.logger.Warn("reward failed to show", "prayer", prayer, "error", err)
				q.done()
			},
		})
	}()
}

func (q *Queue) done() {
	q.mu.Lock()
	q.showing = false
	q.mu.Unlock()
}
