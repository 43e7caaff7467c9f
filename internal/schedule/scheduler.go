package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"salahguard/config"
	"salahguard/internal/alarm"
	"salahguard/internal/clock"
	"salahguard/internal/core"
	"salahguard/internal/praytime"
)

const (
	// rescheduleDebounce suppresses repeated recomputation when several
	// time-change listeners fire near-simultaneously.
	rescheduleDebounce = 5 * time.Minute

	// missedThreshold: a prayer whose trigger passed by more than this at
	// recompute time is marked missed instead of scheduled.
	missedThreshold = time.Hour

	// nearMissWindow: a prayer that passed by less than this is marked
	// missed but its lock trigger still fires, covering device-sleep
	// through the exact trigger moment.
	nearMissWindow = 5 * time.Minute

	// preNextGap ends a prayer's lock window this long before the next
	// prayer's time.
	preNextGap = 15 * time.Minute
)

// Ledger is the slice of the lock manager the scheduler needs
type Ledger interface {
	MarkPrayerMissed(ctx context.Context, prayer core.PrayerName) error
	IsPrayerComplete(ctx context.Context, prayer core.PrayerName) (bool, error)
}

// Scheduler computes absolute-time triggers for each prayer and registers
// them with the alarm capability. All registration is idempotent: request
// keys are deterministic per (prayer, action), so re-registration replaces
// rather than duplicates.
type Scheduler struct {
	alarms   alarm.Service
	location praytime.LocationProvider
	calc     praytime.Calculator
	ledger   Ledger
	cfg      *config.Config
	clock    clock.Clock
	logger   *slog.Logger

	mu             sync.Mutex
	lastReschedule time.Time
	prayers        []praytime.PrayerTime // cache of the currently scheduled day
}

// NewScheduler creates a new scheduler
func NewScheduler(alarms alarm.Service, location praytime.LocationProvider, calc praytime.Calculator, ledger Ledger, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		alarms:   alarms,
		location: location,
		calc:     calc,
		ledger:   ledger,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With("component", "scheduler"),
	}
}

// RequestKey derives the deterministic alarm key for a (prayer, action) pair
func RequestKey(prayer core.PrayerName, action core.TriggerAction) string {
	return fmt.Sprintf("%s:%s", prayer, action)
}

// LockWindowEnd computes when a prayer's lock window closes. The window ends
// 15 minutes before the next prayer, bounded by the fallback window; the last
// prayer of the day has no successor and extends to 23:59 local instead.
func LockWindowEnd(prayer praytime.PrayerTime, next *praytime.PrayerTime, fallback time.Duration, tz *time.Location) time.Time {
	if next == nil {
		local := prayer.Time.In(tz)
		return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 0, 0, tz)
	}

	fallbackEnd := prayer.Time.Add(fallback)
	nextBound := next.Time.Add(-preNextGap)
	if nextBound.Before(fallbackEnd) {
		return nextBound
	}
	return fallbackEnd
}

// ScheduleAllPrayers registers triggers for every prayer whose features are
// enabled: advance notification, the lock/adhan trigger at prayer time, and
// the auto-unlock trigger at window end.
func (s *Scheduler) ScheduleAllPrayers(ctx context.Context, prayers []praytime.PrayerTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, prayers)
}

func (s *Scheduler) scheduleLocked(ctx context.Context, prayers []praytime.PrayerTime) error {
	now := s.clock.Now()
	tz := s.cfg.Location()

	for i, prayer := range prayers {
		var next *praytime.PrayerTime
		if i+1 < len(prayers) {
			next = &prayers[i+1]
		}
		if err := s.schedulePrayer(ctx, prayer, next, now, tz); err != nil {
			s.logger.Error("failed to schedule prayer", "prayer", prayer.Name, "error", err)
		}
	}

	s.prayers = prayers
	s.lastReschedule = now
	return nil
}

func (s *Scheduler) schedulePrayer(ctx context.Context, prayer praytime.PrayerTime, next *praytime.PrayerTime, now time.Time, tz *time.Location) error {
	feature := s.cfg.Feature(string(prayer.Name))
	elapsed := now.Sub(prayer.Time)

	if elapsed > missedThreshold {
		// Too long past to be worth locking for; record the miss and move on.
		complete, err := s.ledger.IsPrayerComplete(ctx, prayer.Name)
		if err != nil {
			return err
		}
		if !complete {
			if err := s.ledger.MarkPrayerMissed(ctx, prayer.Name); err != nil {
				return err
			}
		}
		s.logger.Debug("prayer past missed threshold, not scheduling", "prayer", prayer.Name, "elapsed", elapsed)
		return nil
	}

	if elapsed > 0 && elapsed <= nearMissWindow {
		// The device likely slept through the trigger moment. Record the
		// miss, but still let the lock fire so the episode is not skipped.
		if err := s.ledger.MarkPrayerMissed(ctx, prayer.Name); err != nil {
			s.logger.Error("failed to mark near-miss prayer", "prayer", prayer.Name, "error", err)
		}
	}

	windowEnd := LockWindowEnd(prayer, next, s.fallbackWindow(), tz)

	if feature.NotifyEnabled {
		advance := time.Duration(s.cfg.AdvanceMinutes(string(prayer.Name))) * time.Minute
		notifyAt := prayer.Time.Add(-advance)
		if notifyAt.After(now) {
			if err := s.alarms.SetExact(RequestKey(prayer.Name, core.TriggerNotify), notifyAt, core.Trigger{
				Action:        core.TriggerNotify,
				PrayerName:    prayer.Name,
				RakaatCount:   prayer.RakaatCount,
				ScheduledTime: prayer.Time,
			}); err != nil {
				return fmt.Errorf("failed to register notify alarm: %w", err)
			}
		}
	}

	if feature.AdhanEnabled {
		if err := s.alarms.SetExact(RequestKey(prayer.Name, core.TriggerAdhan), prayer.Time, core.Trigger{
			Action:        core.TriggerAdhan,
			PrayerName:    prayer.Name,
			RakaatCount:   prayer.RakaatCount,
			ScheduledTime: prayer.Time,
		}); err != nil {
			return fmt.Errorf("failed to register adhan alarm: %w", err)
		}
	}

	if feature.LockEnabled {
		if err := s.alarms.SetExact(RequestKey(prayer.Name, core.TriggerLock), prayer.Time, core.Trigger{
			Action:        core.TriggerLock,
			PrayerName:    prayer.Name,
			RakaatCount:   prayer.RakaatCount,
			ScheduledTime: prayer.Time,
		}); err != nil {
			return fmt.Errorf("failed to register lock alarm: %w", err)
		}

		if err := s.alarms.SetExact(RequestKey(prayer.Name, core.TriggerUnlock), windowEnd, core.Trigger{
			Action:        core.TriggerUnlock,
			PrayerName:    prayer.Name,
			RakaatCount:   prayer.RakaatCount,
			ScheduledTime: prayer.Time,
		}); err != nil {
			return fmt.Errorf("failed to register unlock alarm: %w", err)
		}
	}

	s.logger.Info("prayer scheduled",
		"prayer", prayer.Name,
		"time", prayer.Time,
		"window_end", windowEnd,
		"lock", feature.LockEnabled,
		"adhan", feature.AdhanEnabled,
		"notify", feature.NotifyEnabled)
	return nil
}

// CheckAndUpdateSchedule recomputes prayer times and reschedules. Without
// forceReschedule, calls within the debounce interval of the previous
// reschedule are ignored.
func (s *Scheduler) CheckAndUpdateSchedule(ctx context.Context, forceReschedule bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !forceReschedule && !s.lastReschedule.IsZero() && now.Sub(s.lastReschedule) < rescheduleDebounce {
		s.logger.Debug("reschedule debounced", "since_last", now.Sub(s.lastReschedule))
		return nil
	}

	loc, err := s.location.LastLocation(ctx)
	if err != nil {
		return fmt.Errorf("failed to get location: %w", err)
	}
	if loc == nil {
		s.logger.Info("no location fix yet, skipping scheduling cycle")
		return nil
	}

	prayers, err := s.calc.CalculatePrayerTimes(ctx, loc, forceReschedule)
	if err != nil {
		return fmt.Errorf("failed to calculate prayer times: %w", err)
	}
	if len(prayers) == 0 {
		s.logger.Info("no prayer times available, skipping scheduling cycle")
		return nil
	}

	return s.scheduleLocked(ctx, prayers)
}

// HandleTimeChange reacts to a significant system time or timezone change.
// Previously registered absolute-time alarms are semantically invalid, so
// everything is cancelled and recomputed from scratch.
func (s *Scheduler) HandleTimeChange(ctx context.Context) error {
	s.mu.Lock()
	if err := s.alarms.CancelAll(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to cancel alarms: %w", err)
	}
	s.prayers = nil
	s.lastReschedule = time.Time{}
	s.mu.Unlock()

	s.logger.Info("system time change detected, rescheduling all prayers")
	return s.CheckAndUpdateSchedule(ctx, true)
}

// CurrentWindow reports the prayer whose lock window contains now, if any.
// Used by the watchdog's missed-window sweep.
func (s *Scheduler) CurrentWindow(now time.Time) (praytime.PrayerTime, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := s.cfg.Location()
	for i, prayer := range s.prayers {
		var next *praytime.PrayerTime
		if i+1 < len(s.prayers) {
			next = &s.prayers[i+1]
		}
		end := LockWindowEnd(prayer, next, s.fallbackWindow(), tz)
		if !now.Before(prayer.Time) && now.Before(end) {
			return prayer, end, true
		}
	}
	return praytime.PrayerTime{}, time.Time{}, false
}

// ScheduledPrayers returns a copy of the currently scheduled day's prayers
func (s *Scheduler) ScheduledPrayers() []praytime.PrayerTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]praytime.PrayerTime, len(s.prayers))
	copy(out, s.prayers)
	return out
}

func (s *Scheduler) fallbackWindow() time.Duration {
	return time.Duration(s.cfg.Prayers.FallbackWindowMinutes) * time.Minute
}
