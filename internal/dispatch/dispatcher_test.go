package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salahguard/internal/clock"
	"salahguard/internal/core"
)

type fakeDedup struct {
	mu      sync.Mutex
	handled map[string]time.Time
	cutoffs []time.Time
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{handled: make(map[string]time.Time)}
}

func (f *fakeDedup) MarkHandled(ctx context.Context, key string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handled[key]; ok {
		return false, nil
	}
	f.handled[key] = at
	return true, nil
}

func (f *fakeDedup) PurgeDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	var purged int64
	for key, at := range f.handled {
		if at.Before(cutoff) {
			delete(f.handled, key)
			purged++
		}
	}
	return purged, nil
}

type fakeDispatchLedger struct {
	mu        sync.Mutex
	activated []core.PrayerName
	expired   []core.PrayerName
}

func (f *fakeDispatchLedger) ActivateLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, prayer)
	return nil
}

func (f *fakeDispatchLedger) AutoExpire(ctx context.Context, prayer core.PrayerName, scheduledTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, prayer)
	return nil
}

type fakeActions struct {
	mu          sync.Mutex
	notified    int
	adhans      int
	launches    int
	relaunches  int
	launchErr   error
	relaunchErr error
}

func (f *fakeActions) ShowNotification(ctx context.Context, prayer core.PrayerName, scheduledTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified++
	return nil
}

func (f *fakeActions) PlayAdhan(ctx context.Context, prayer core.PrayerName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adhans++
	return nil
}

func (f *fakeActions) LaunchLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	return f.launchErr
}

func (f *fakeActions) Relaunch(ctx context.Context, prayer core.PrayerName, rakaatCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relaunches++
	return f.relaunchErr
}

type queuedRetry struct {
	trigger core.Trigger
	attempt int
	delay   time.Duration
}

type fakeRequeuer struct {
	mu      sync.Mutex
	retries []queuedRetry
}

func (f *fakeRequeuer) Requeue(trigger core.Trigger, attempt int, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, queuedRetry{trigger: trigger, attempt: attempt, delay: delay})
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeDedup, *fakeDispatchLedger, *fakeActions, *fakeRequeuer, *clock.MockClock) {
	t.Helper()
	dedup := newFakeDedup()
	ledger := &fakeDispatchLedger{}
	actions := &fakeActions{}
	requeue := &fakeRequeuer{}
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)}
	d := NewDispatcher(dedup, ledger, actions, NoopWakeLock{}, requeue, clk, nil)
	return d, dedup, ledger, actions, requeue, clk
}

func lockTrigger(clk *clock.MockClock) core.Trigger {
	return core.Trigger{
		Action:        core.TriggerLock,
		PrayerName:    core.PrayerDhuhr,
		RakaatCount:   4,
		ScheduledTime: clk.Now(),
	}
}

func TestHandleTriggerLockOnce(t *testing.T) {
	d, _, ledger, actions, _, clk := newTestDispatcher(t)
	ctx := context.Background()
	trigger := lockTrigger(clk)

	require.NoError(t, d.HandleTrigger(ctx, trigger))
	require.NoError(t, d.HandleTrigger(ctx, trigger))

	assert.Equal(t, []core.PrayerName{core.PrayerDhuhr}, ledger.activated)
	assert.Equal(t, 1, actions.launches, "duplicate delivery must not re-launch")
}

func TestRepeatedDeliveriesLaunchOnce(t *testing.T) {
	for _, n := range []int{1, 2, 5, 100} {
		t.Run(fmt.Sprintf("%d deliveries", n), func(t *testing.T) {
			d, _, ledger, actions, _, clk := newTestDispatcher(t)
			ctx := context.Background()
			trigger := lockTrigger(clk)

			for i := 0; i < n; i++ {
				require.NoError(t, d.HandleTrigger(ctx, trigger))
			}

			assert.Equal(t, []core.PrayerName{core.PrayerDhuhr}, ledger.activated)
			assert.Equal(t, 1, actions.launches)
		})
	}
}

func TestDedupKeyBucketsToMinute(t *testing.T) {
	base := time.Date(2025, 6, 10, 13, 0, 5, 0, time.UTC)
	a := core.Trigger{Action: core.TriggerLock, PrayerName: core.PrayerAsr, ScheduledTime: base}
	b := core.Trigger{Action: core.TriggerLock, PrayerName: core.PrayerAsr, ScheduledTime: base.Add(30 * time.Second)}
	c := core.Trigger{Action: core.TriggerLock, PrayerName: core.PrayerAsr, ScheduledTime: base.Add(2 * time.Minute)}

	assert.Equal(t, DedupKey(a), DedupKey(b))
	assert.NotEqual(t, DedupKey(a), DedupKey(c))
}

func TestMarkPrecedesAct(t *testing.T) {
	d, _, _, actions, _, clk := newTestDispatcher(t)
	ctx := context.Background()
	actions.launchErr = assert.AnError
	trigger := lockTrigger(clk)

	err := d.HandleTrigger(ctx, trigger)
	require.Error(t, err)
	assert.Equal(t, 1, actions.launches)

	// The failed attempt already consumed the dedup slot, so a redelivery
	// cannot repeat the user-visible action.
	require.NoError(t, d.HandleTrigger(ctx, trigger))
	assert.Equal(t, 1, actions.launches)
}

func TestTransientFailureRequeued(t *testing.T) {
	d, _, _, actions, requeue, clk := newTestDispatcher(t)
	ctx := context.Background()
	actions.relaunchErr = ErrTransient
	trigger := core.Trigger{
		Action:        core.TriggerRelaunch,
		PrayerName:    core.PrayerAsr,
		RakaatCount:   4,
		ScheduledTime: clk.Now(),
	}

	require.NoError(t, d.HandleAttempt(ctx, trigger, 0))
	require.Len(t, requeue.retries, 1)
	assert.Equal(t, 1, requeue.retries[0].attempt)
	assert.Equal(t, retryBase, requeue.retries[0].delay)

	require.NoError(t, d.HandleAttempt(ctx, trigger, 1))
	require.Len(t, requeue.retries, 2)
	assert.Equal(t, 2, requeue.retries[1].attempt)
	assert.Equal(t, retryBase<<1, requeue.retries[1].delay)

	// The final attempt is not requeued; the failure surfaces.
	err := d.HandleAttempt(ctx, trigger, 2)
	assert.Error(t, err)
	assert.Len(t, requeue.retries, 2)
}

func TestPermanentFailureNotRequeued(t *testing.T) {
	d, _, _, actions, requeue, clk := newTestDispatcher(t)
	actions.launchErr = assert.AnError

	err := d.HandleTrigger(context.Background(), lockTrigger(clk))
	assert.Error(t, err)
	assert.Empty(t, requeue.retries)
}

func TestValidationFailureCooldown(t *testing.T) {
	d, _, _, actions, requeue, clk := newTestDispatcher(t)
	ctx := context.Background()
	scheduled := clk.Now()

	bad := core.Trigger{
		Action:        core.TriggerRelaunch,
		PrayerName:    core.PrayerDhuhr,
		RakaatCount:   0,
		ScheduledTime: scheduled,
	}
	err := d.HandleTrigger(ctx, bad)
	assert.ErrorIs(t, err, core.ErrInvalidRakaatCount)
	assert.Empty(t, requeue.retries, "validation failures are never retried")

	// A structurally valid trigger for the same episode stays suppressed.
	good := core.Trigger{
		Action:        core.TriggerRelaunch,
		PrayerName:    core.PrayerDhuhr,
		RakaatCount:   4,
		ScheduledTime: scheduled,
	}
	require.NoError(t, d.HandleTrigger(ctx, good))
	assert.Zero(t, actions.relaunches)

	// After the cooldown lapses the episode dispatches normally.
	clk.Advance(validationCooldown + time.Second)
	require.NoError(t, d.HandleTrigger(ctx, good))
	assert.Equal(t, 1, actions.relaunches)
}

func TestRelaunchBypassesDedup(t *testing.T) {
	d, _, _, actions, _, clk := newTestDispatcher(t)
	ctx := context.Background()
	trigger := core.Trigger{
		Action:        core.TriggerRelaunch,
		PrayerName:    core.PrayerMaghrib,
		RakaatCount:   3,
		ScheduledTime: clk.Now(),
	}

	require.NoError(t, d.HandleTrigger(ctx, trigger))
	require.NoError(t, d.HandleTrigger(ctx, trigger))

	assert.Equal(t, 2, actions.relaunches, "recovery relaunches are not deduplicated")
}

func TestUnlockTriggerAutoExpires(t *testing.T) {
	d, _, ledger, _, _, clk := newTestDispatcher(t)
	trigger := core.Trigger{
		Action:        core.TriggerUnlock,
		PrayerName:    core.PrayerIsha,
		RakaatCount:   4,
		ScheduledTime: clk.Now(),
	}

	require.NoError(t, d.HandleTrigger(context.Background(), trigger))
	assert.Equal(t, []core.PrayerName{core.PrayerIsha}, ledger.expired)
}

func TestNotifyAndAdhanRouting(t *testing.T) {
	d, _, _, actions, _, clk := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.HandleTrigger(ctx, core.Trigger{
		Action: core.TriggerNotify, PrayerName: core.PrayerFajr, ScheduledTime: clk.Now(),
	}))
	require.NoError(t, d.HandleTrigger(ctx, core.Trigger{
		Action: core.TriggerAdhan, PrayerName: core.PrayerFajr, ScheduledTime: clk.Now(),
	}))

	assert.Equal(t, 1, actions.notified)
	assert.Equal(t, 1, actions.adhans)
}

func TestPurgeDedup(t *testing.T) {
	d, dedup, _, actions, _, clk := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.HandleTrigger(ctx, core.Trigger{
		Action: core.TriggerNotify, PrayerName: core.PrayerFajr, ScheduledTime: clk.Now(),
	}))

	clk.Advance(25 * time.Hour)
	require.NoError(t, d.PurgeDedup(ctx))

	require.Len(t, dedup.cutoffs, 1)
	assert.Equal(t, clk.Now().Add(-24*time.Hour), dedup.cutoffs[0])
	assert.Empty(t, dedup.handled, "day-old entries are purged")

	// The purged trigger may fire again the next day.
	require.NoError(t, d.HandleTrigger(ctx, core.Trigger{
		Action: core.TriggerNotify, PrayerName: core.PrayerFajr, ScheduledTime: clk.Now(),
	}))
	assert.Equal(t, 2, actions.notified)
}
