package guardian

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/clock"
	"salahguard/internal/core"
)

// Supervisor launches guardian instances and enforces the singleton: at most
// one guardian runs at a time, and launching while one is running is a safe
// no-op. This is what makes the watchdogs' unordered, possibly overlapping
// recovery actions idempotent.
type Supervisor struct {
	ledger    *core.LockManager
	kiosk     Kiosk
	inspector Inspector
	shown     ShownStore
	rewards   Rewarder
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor creates a guardian supervisor
func NewSupervisor(ledger *core.LockManager, kiosk Kiosk, inspector Inspector, shown ShownStore, rewards Rewarder, clk clock.Clock, logger *slog.Logger) *Supervisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		ledger:    ledger,
		kiosk:     kiosk,
		inspector: inspector,
		shown:     shown,
		rewards:   rewards,
		clock:     clk,
		logger:    logger.With("component", "guardian-supervisor"),
	}
}

// Launch starts a guardian for a fresh lock episode. Returns immediately;
// the guardian runs until a legitimate exit or cancellation.
func (s *Supervisor) Launch(prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	return s.launch(prayer, rakaatCount, scheduledTime, false)
}

// Relaunch starts a guardian for a recovery, skipping the already-shown
// rejection. Relaunching while a guardian is running is a no-op.
func (s *Supervisor) Relaunch(prayer core.PrayerName, rakaatCount int) error {
	scheduledTime := s.clock.Now()
	if state, err := s.ledger.LockState(context.Background()); err == nil && state.Active {
		scheduledTime = state.PrayerTime
	}
	return s.launch(prayer, rakaatCount, scheduledTime, true)
}

func (s *Supervisor) launch(prayer core.PrayerName, rakaatCount int, scheduledTime time.Time, relaunch bool) error {
	if !prayer.Valid() {
		return core.ErrInvalidPrayerName
	}
	if rakaatCount <= 0 {
		return core.ErrInvalidRakaatCount
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("guardian already running, launch is a no-op", "prayer", prayer)
		return nil
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	g := New(s.ledger, s.kiosk, s.inspector, s.shown, s.rewards, s.clock, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.cancel = nil
			s.mu.Unlock()
		}()

		if err := g.Run(ctx, prayer, rakaatCount, scheduledTime, relaunch); err != nil && err != context.Canceled {
			s.logger.Error("guardian run ended with error", "prayer", prayer, "error", err)
		}
	}()

	return nil
}

// Running reports whether a guardian instance is currently active
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown cancels any running guardian and waits for it to exit
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
