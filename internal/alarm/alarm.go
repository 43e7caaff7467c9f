// Package alarm provides the exact-time alarm capability the scheduler
// registers triggers with. Registration is keyed: setting an alarm with a
// key that is already registered replaces it rather than duplicating it.
package alarm

import (
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/core"
)

// Service is the OS alarm capability boundary
type Service interface {
	SetExact(key string, at time.Time, trigger core.Trigger) error
	Cancel(key string) error
	CancelAll() error
}

// Handler receives a fired trigger
type Handler func(trigger core.Trigger)

// TimerService implements Service with in-process timers. Fired triggers are
// delivered to the handler on the timer goroutine; the handler is expected
// to hand off to the dispatcher promptly.
type TimerService struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimerService creates a timer-backed alarm service
func NewTimerService(handler Handler, logger *slog.Logger) *TimerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerService{
		handler: handler,
		logger:  logger.With("component", "alarm"),
		timers:  make(map[string]*time.Timer),
	}
}

// SetExact registers a trigger to fire at the given time, replacing any
// alarm previously registered under the same key. Times already in the past
// fire immediately.
func (s *TimerService) SetExact(key string, at time.Time, trigger core.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
		delete(s.timers, key)
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()

		s.logger.Debug("alarm fired", "key", key, "action", trigger.Action, "prayer", trigger.PrayerName)
		s.handler(trigger)
	})

	s.logger.Debug("alarm registered", "key", key, "at", at, "in", delay.Round(time.Second))
	return nil
}

// Cancel removes a registered alarm. Cancelling an unknown key is a no-op.
func (s *TimerService) Cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
	return nil
}

// CancelAll removes every registered alarm. Used when a time or timezone
// change invalidates all previously computed absolute trigger times.
func (s *TimerService) CancelAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	return nil
}

// Pending returns the number of registered alarms (for diagnostics)
func (s *TimerService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
