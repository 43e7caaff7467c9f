package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/core"
)

// TimerRequeuer implements Requeuer with delayed timers, standing in for the
// OS work-queue primitive. The target is bound after construction because
// the dispatcher and its requeuer reference each other.
type TimerRequeuer struct {
	logger *slog.Logger

	mu     sync.Mutex
	target func(ctx context.Context, t core.Trigger, attempt int) error
	timers []*time.Timer
	closed bool
}

// NewTimerRequeuer creates a timer-backed requeuer
func NewTimerRequeuer(logger *slog.Logger) *TimerRequeuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerRequeuer{logger: logger.With("component", "requeue")}
}

// Bind sets the delivery target, normally Dispatcher.HandleAttempt
func (r *TimerRequeuer) Bind(target func(ctx context.Context, t core.Trigger, attempt int) error) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

// Requeue schedules a redelivery after the given delay
func (r *TimerRequeuer) Requeue(trigger core.Trigger, attempt int, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.target == nil {
		return
	}

	timer := time.AfterFunc(delay, func() {
		r.mu.Lock()
		target := r.target
		closed := r.closed
		r.mu.Unlock()
		if closed || target == nil {
			return
		}
		if err := target(context.Background(), trigger, attempt); err != nil {
			r.logger.Error("requeued trigger failed",
				"action", trigger.Action, "prayer", trigger.PrayerName,
				"attempt", attempt, "error", err)
		}
	})
	r.timers = append(r.timers, timer)
}

// Close stops all pending redeliveries
func (r *TimerRequeuer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, timer := range r.timers {
		timer.Stop()
	}
	r.timers = nil
}
