package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salahguard/config"
	"salahguard/internal/clock"
	"salahguard/internal/core"
	"salahguard/internal/praytime"
)

type recordedAlarm struct {
	at      time.Time
	trigger core.Trigger
}

type fakeAlarms struct {
	mu        sync.Mutex
	alarms    map[string]recordedAlarm
	cancelAll int
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{alarms: make(map[string]recordedAlarm)}
}

func (f *fakeAlarms) SetExact(key string, at time.Time, trigger core.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms[key] = recordedAlarm{at: at, trigger: trigger}
	return nil
}

func (f *fakeAlarms) Cancel(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alarms, key)
	return nil
}

func (f *fakeAlarms) CancelAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = make(map[string]recordedAlarm)
	f.cancelAll++
	return nil
}

func (f *fakeAlarms) get(key string) (recordedAlarm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alarms[key]
	return a, ok
}

func (f *fakeAlarms) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alarms)
}

type fakeLedger struct {
	mu       sync.Mutex
	missed   []core.PrayerName
	complete map[core.PrayerName]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{complete: make(map[core.PrayerName]bool)}
}

func (f *fakeLedger) MarkPrayerMissed(ctx context.Context, prayer core.PrayerName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missed = append(f.missed, prayer)
	return nil
}

func (f *fakeLedger) IsPrayerComplete(ctx context.Context, prayer core.PrayerName) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.complete[prayer], nil
}

func (f *fakeLedger) missedPrayers() []core.PrayerName {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.PrayerName, len(f.missed))
	copy(out, f.missed)
	return out
}

type countingCalc struct {
	mu      sync.Mutex
	calls   int
	prayers []praytime.PrayerTime
}

func (c *countingCalc) CalculatePrayerTimes(ctx context.Context, loc *praytime.Location, force bool) ([]praytime.PrayerTime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.prayers, nil
}

func (c *countingCalc) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testConfig() *config.Config {
	return &config.Config{
		Prayers: config.PrayerConfig{
			Timezone:              "UTC",
			DefaultAdvanceMinutes: 10,
			FallbackWindowMinutes: 60,
		},
	}
}

func at(clk *clock.MockClock, hour, minute int) time.Time {
	n := clk.Now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, prayers []praytime.PrayerTime, clk *clock.MockClock) (*Scheduler, *fakeAlarms, *fakeLedger, *countingCalc) {
	t.Helper()
	alarms := newFakeAlarms()
	ledger := newFakeLedger()
	calc := &countingCalc{prayers: prayers}
	s := NewScheduler(alarms, &praytime.StaticLocation{}, calc, ledger, testConfig(), clk, nil)
	return s, alarms, ledger, calc
}

func TestScheduleAllPrayersRegistersTriggers(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)}
	dhuhr := praytime.PrayerTime{Name: core.PrayerDhuhr, Time: at(clk, 13, 0), RakaatCount: 4}
	asr := praytime.PrayerTime{Name: core.PrayerAsr, Time: at(clk, 17, 0), RakaatCount: 4}
	s, alarms, _, _ := newTestScheduler(t, nil, clk)

	require.NoError(t, s.ScheduleAllPrayers(context.Background(), []praytime.PrayerTime{dhuhr, asr}))

	notify, ok := alarms.get(RequestKey(core.PrayerDhuhr, core.TriggerNotify))
	require.True(t, ok)
	assert.Equal(t, dhuhr.Time.Add(-10*time.Minute), notify.at)
	assert.Equal(t, core.TriggerNotify, notify.trigger.Action)

	lock, ok := alarms.get(RequestKey(core.PrayerDhuhr, core.TriggerLock))
	require.True(t, ok)
	assert.Equal(t, dhuhr.Time, lock.at)
	assert.Equal(t, 4, lock.trigger.RakaatCount)
	assert.Equal(t, dhuhr.Time, lock.trigger.ScheduledTime)

	adhan, ok := alarms.get(RequestKey(core.PrayerDhuhr, core.TriggerAdhan))
	require.True(t, ok)
	assert.Equal(t, dhuhr.Time, adhan.at)

	// Dhuhr's window closes at the fallback bound: Asr is four hours away,
	// so 15 minutes before Asr is not the limiting factor.
	unlock, ok := alarms.get(RequestKey(core.PrayerDhuhr, core.TriggerUnlock))
	require.True(t, ok)
	assert.Equal(t, dhuhr.Time.Add(time.Hour), unlock.at)
}

func TestLockWindowEnd(t *testing.T) {
	base := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	prayer := praytime.PrayerTime{Name: core.PrayerDhuhr, Time: base}

	// Next prayer close by: the window ends 15 minutes before it.
	next := &praytime.PrayerTime{Name: core.PrayerAsr, Time: base.Add(50 * time.Minute)}
	end := LockWindowEnd(prayer, next, time.Hour, time.UTC)
	assert.Equal(t, base.Add(35*time.Minute), end)

	// Next prayer far away: the fallback window bounds it.
	next = &praytime.PrayerTime{Name: core.PrayerAsr, Time: base.Add(4 * time.Hour)}
	end = LockWindowEnd(prayer, next, time.Hour, time.UTC)
	assert.Equal(t, base.Add(time.Hour), end)

	// Last prayer of the day extends to 23:59 local.
	end = LockWindowEnd(prayer, nil, time.Hour, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC), end)
}

func TestSchedulePastPrayerMarkedMissed(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
	fajr := praytime.PrayerTime{Name: core.PrayerFajr, Time: at(clk, 5, 0), RakaatCount: 2}
	s, alarms, ledger, _ := newTestScheduler(t, nil, clk)

	require.NoError(t, s.ScheduleAllPrayers(context.Background(), []praytime.PrayerTime{fajr}))

	assert.Zero(t, alarms.count(), "a prayer hours past gets no triggers")
	assert.Equal(t, []core.PrayerName{core.PrayerFajr}, ledger.missedPrayers())
}

func TestSchedulePastCompletedPrayerNotMarkedMissed(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
	fajr := praytime.PrayerTime{Name: core.PrayerFajr, Time: at(clk, 5, 0), RakaatCount: 2}
	s, _, ledger, _ := newTestScheduler(t, nil, clk)
	ledger.complete[core.PrayerFajr] = true

	require.NoError(t, s.ScheduleAllPrayers(context.Background(), []praytime.PrayerTime{fajr}))
	assert.Empty(t, ledger.missedPrayers())
}

func TestScheduleNearMissStillLocks(t *testing.T) {
	// Three minutes past the trigger: the device likely slept through it.
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 13, 3, 0, 0, time.UTC)}
	dhuhr := praytime.PrayerTime{Name: core.PrayerDhuhr, Time: at(clk, 13, 0), RakaatCount: 4}
	s, alarms, ledger, _ := newTestScheduler(t, nil, clk)

	require.NoError(t, s.ScheduleAllPrayers(context.Background(), []praytime.PrayerTime{dhuhr}))

	assert.Equal(t, []core.PrayerName{core.PrayerDhuhr}, ledger.missedPrayers())
	_, ok := alarms.get(RequestKey(core.PrayerDhuhr, core.TriggerLock))
	assert.True(t, ok, "the lock trigger still fires for a near miss")
	_, ok = alarms.get(RequestKey(core.PrayerDhuhr, core.TriggerNotify))
	assert.False(t, ok, "advance notification in the past is not registered")
}

func TestCheckAndUpdateScheduleDebounce(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)}
	prayers := []praytime.PrayerTime{
		{Name: core.PrayerDhuhr, Time: at(clk, 13, 0), RakaatCount: 4},
	}
	s, _, _, calc := newTestScheduler(t, prayers, clk)
	ctx := context.Background()

	require.NoError(t, s.CheckAndUpdateSchedule(ctx, false))
	assert.Equal(t, 1, calc.callCount())

	// Within the debounce interval nothing recomputes.
	clk.Advance(time.Minute)
	require.NoError(t, s.CheckAndUpdateSchedule(ctx, false))
	assert.Equal(t, 1, calc.callCount())

	// Force bypasses the debounce.
	require.NoError(t, s.CheckAndUpdateSchedule(ctx, true))
	assert.Equal(t, 2, calc.callCount())

	// Past the debounce interval it recomputes again.
	clk.Advance(rescheduleDebounce + time.Second)
	require.NoError(t, s.CheckAndUpdateSchedule(ctx, false))
	assert.Equal(t, 3, calc.callCount())
}

func TestHandleTimeChangeCancelsAndReschedules(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)}
	prayers := []praytime.PrayerTime{
		{Name: core.PrayerDhuhr, Time: at(clk, 13, 0), RakaatCount: 4},
	}
	s, alarms, _, calc := newTestScheduler(t, prayers, clk)
	ctx := context.Background()

	require.NoError(t, s.CheckAndUpdateSchedule(ctx, false))
	require.NotZero(t, alarms.count())

	require.NoError(t, s.HandleTimeChange(ctx))

	assert.Equal(t, 1, alarms.cancelAll)
	assert.Equal(t, 2, calc.callCount())
	assert.NotZero(t, alarms.count(), "triggers re-registered after the cancel")
}

func TestCurrentWindow(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)}
	dhuhr := praytime.PrayerTime{Name: core.PrayerDhuhr, Time: at(clk, 13, 0), RakaatCount: 4}
	asr := praytime.PrayerTime{Name: core.PrayerAsr, Time: at(clk, 17, 0), RakaatCount: 4}
	s, _, _, _ := newTestScheduler(t, nil, clk)
	require.NoError(t, s.ScheduleAllPrayers(context.Background(), []praytime.PrayerTime{dhuhr, asr}))

	// Before any prayer.
	_, _, ok := s.CurrentWindow(at(clk, 12, 0))
	assert.False(t, ok)

	// Inside Dhuhr's window.
	prayer, end, ok := s.CurrentWindow(at(clk, 13, 30))
	require.True(t, ok)
	assert.Equal(t, core.PrayerDhuhr, prayer.Name)
	assert.Equal(t, dhuhr.Time.Add(time.Hour), end)

	// Between Dhuhr's window end and Asr.
	_, _, ok = s.CurrentWindow(at(clk, 15, 0))
	assert.False(t, ok)

	// Inside Asr's window.
	prayer, _, ok = s.CurrentWindow(at(clk, 17, 10))
	require.True(t, ok)
	assert.Equal(t, core.PrayerAsr, prayer.Name)
}

func TestScheduledPrayersReturnsCopy(t *testing.T) {
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)}
	dhuhr := praytime.PrayerTime{Name: core.PrayerDhuhr, Time: at(clk, 13, 0), RakaatCount: 4}
	s, _, _, _ := newTestScheduler(t, nil, clk)
	require.NoError(t, s.ScheduleAllPrayers(context.Background(), []praytime.PrayerTime{dhuhr}))

	got := s.ScheduledPrayers()
	require.Len(t, got, 1)
	got[0].Name = core.PrayerFajr

	again := s.ScheduledPrayers()
	assert.Equal(t, core.PrayerDhuhr, again[0].Name)
}
