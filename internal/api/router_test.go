package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salahguard/internal/core"
	"salahguard/internal/logging"
	"salahguard/internal/pin"
	"salahguard/internal/praytime"
)

const testAPIKey = "test-api-key"

type fakeService struct {
	mu          sync.Mutex
	state       core.LockState
	completions []*core.CompletionRecord
	audit       []*core.AuditEntry
	marked      []core.PrayerName
	forceClears []string
	clearErr    error
}

func (f *fakeService) ActivateLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = core.LockState{
		Active:      true,
		EpisodeID:   "ep_fake",
		PrayerName:  prayer,
		RakaatCount: rakaatCount,
		PrayerTime:  scheduledTime,
		ActivatedAt: scheduledTime,
	}
	return nil
}

func (f *fakeService) ClearLock(ctx context.Context, reason core.CompletionType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	if !f.state.Active {
		return core.ErrLockNotActive
	}
	f.state.Active = false
	return nil
}

func (f *fakeService) ForceClear(ctx context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceClears = append(f.forceClears, reason)
	f.state.Active = false
	return nil
}

func (f *fakeService) IsLockActive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Active, nil
}

func (f *fakeService) ActivePrayer(ctx context.Context) (core.PrayerName, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.Active {
		return "", 0, nil
	}
	return f.state.PrayerName, f.state.RakaatCount, nil
}

func (f *fakeService) LastValidPrayer(ctx context.Context) (core.PrayerName, int, error) {
	return f.ActivePrayer(ctx)
}

func (f *fakeService) DetectBypass(ctx context.Context) (bool, error) { return false, nil }

func (f *fakeService) ClearBypassDetection() {}

func (f *fakeService) MarkPrayerComplete(ctx context.Context, prayer core.PrayerName, completionType core.CompletionType) error {
	if !prayer.Valid() {
		return core.ErrInvalidPrayerName
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, prayer)
	return nil
}

func (f *fakeService) MarkPrayerMissed(ctx context.Context, prayer core.PrayerName) error {
	return nil
}

func (f *fakeService) IsPrayerComplete(ctx context.Context, prayer core.PrayerName) (bool, error) {
	return false, nil
}

func (f *fakeService) LockState(ctx context.Context) (*core.LockState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.state
	return &cp, nil
}

func (f *fakeService) TodayCompletions(ctx context.Context) ([]*core.CompletionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completions, nil
}

func (f *fakeService) ListAudit(ctx context.Context, limit int) ([]*core.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.audit) {
		return f.audit[:limit], nil
	}
	return f.audit, nil
}

type fakeSessions struct{ running bool }

func (f *fakeSessions) Running() bool { return f.running }

type fakeLauncher struct {
	mu       sync.Mutex
	launches []core.PrayerName
}

func (f *fakeLauncher) Launch(prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, prayer)
	return nil
}

type fakeAPIScheduler struct {
	mu       sync.Mutex
	prayers  []praytime.PrayerTime
	refreshs int
}

func (f *fakeAPIScheduler) CheckAndUpdateSchedule(ctx context.Context, forceReschedule bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs++
	return nil
}

func (f *fakeAPIScheduler) ScheduledPrayers() []praytime.PrayerTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prayers
}

type fakePinVerifier struct {
	accept bool
	err    error
	status pin.LockoutStatus
}

func (f *fakePinVerifier) Verify(candidate string) (bool, error) { return f.accept, f.err }

func (f *fakePinVerifier) Status() pin.LockoutStatus { return f.status }

type fakeKioskReporter struct {
	mu    sync.Mutex
	beats int
}

func (f *fakeKioskReporter) Heartbeat(foreground, pinned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
}

type routerFixture struct {
	router    http.Handler
	service   *fakeService
	launcher  *fakeLauncher
	scheduler *fakeAPIScheduler
	pin       *fakePinVerifier
	kiosk     *fakeKioskReporter
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		service:   &fakeService{},
		launcher:  &fakeLauncher{},
		scheduler: &fakeAPIScheduler{},
		pin:       &fakePinVerifier{status: pin.LockoutStatus{AttemptsRemaining: 5}},
		kiosk:     &fakeKioskReporter{},
	}
	f.router = NewRouter(RouterConfig{
		Service:   f.service,
		Sessions:  &fakeSessions{running: true},
		Launcher:  f.launcher,
		Scheduler: f.scheduler,
		Pin:       f.pin,
		Kiosk:     f.kiosk,
		APIKey:    testAPIKey,
		Logger: logging.NewLogger(logging.LoggerConfig{
			Level:  slog.LevelError,
			Format: "text",
			Output: io.Discard,
		}),
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body any, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("X-Salahguard-Key", testAPIKey)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthNoAuth(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UP", decode(t, rec)["status"])
}

func TestAuthRequired(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/status", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/status", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusIncludesLockFieldsWhenActive(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/status", nil, true)
	body := decode(t, rec)
	assert.Equal(t, false, body["lock_active"])
	assert.NotContains(t, body, "prayer")

	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	require.NoError(t, f.service.ActivateLock(context.Background(), core.PrayerDhuhr, 4, now))

	rec = f.do(t, http.MethodGet, "/v1/status", nil, true)
	body = decode(t, rec)
	assert.Equal(t, true, body["lock_active"])
	assert.Equal(t, true, body["guardian_running"])
	assert.Equal(t, "ep_fake", body["episode_id"])
	assert.Equal(t, "Dhuhr", body["prayer"])
	assert.EqualValues(t, 4, body["rakaat"])
}

func TestVerifyPinClearsActiveLock(t *testing.T) {
	f := newRouterFixture(t)
	f.pin.accept = true
	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	require.NoError(t, f.service.ActivateLock(context.Background(), core.PrayerAsr, 4, now))

	rec := f.do(t, http.MethodPost, "/v1/pin/verify", map[string]string{"pin": "4321"}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, true, body["cleared"])

	active, err := f.service.IsLockActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestVerifyPinWithoutActiveLock(t *testing.T) {
	f := newRouterFixture(t)
	f.pin.accept = true

	rec := f.do(t, http.MethodPost, "/v1/pin/verify", map[string]string{"pin": "4321"}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, false, body["cleared"])
}

func TestVerifyPinWrong(t *testing.T) {
	f := newRouterFixture(t)
	f.pin.accept = false
	f.pin.status = pin.LockoutStatus{AttemptsRemaining: 3}

	rec := f.do(t, http.MethodPost, "/v1/pin/verify", map[string]string{"pin": "0000"}, true)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["verified"])
	assert.EqualValues(t, 3, body["attempts_remaining"])
}

func TestVerifyPinLockedOut(t *testing.T) {
	f := newRouterFixture(t)
	f.pin.err = pin.ErrLockedOut
	f.pin.status = pin.LockoutStatus{IsLocked: true, CooldownRemaining: 4 * time.Minute}

	rec := f.do(t, http.MethodPost, "/v1/pin/verify", map[string]string{"pin": "4321"}, true)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "PIN_LOCKED_OUT", decode(t, rec)["code"])
}

func TestVerifyPinMissingBody(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/pin/verify", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForceClearRequiresReason(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/lock/force-clear", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/lock/force-clear", map[string]string{"reason": "stuck"}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"stuck"}, f.service.forceClears)
}

func TestTestLockActivatesAndLaunches(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/lock/test", map[string]int{"duration_seconds": 120}, true)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, string(core.PrayerTest), decode(t, rec)["prayer"])
	assert.Equal(t, []core.PrayerName{core.PrayerTest}, f.launcher.launches)

	active, err := f.service.IsLockActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestMarkCompletion(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/completions", map[string]string{"prayer": "Maghrib"}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []core.PrayerName{core.PrayerMaghrib}, f.service.marked)

	rec = f.do(t, http.MethodPost, "/v1/completions", map[string]string{"prayer": "NotAPrayer"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PRAYER", decode(t, rec)["code"])
}

func TestListCompletionsEmpty(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/completions", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotNil(t, body["completions"])
}

func TestAuditLimitValidation(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/audit?limit=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/audit?limit=5", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScheduleRefresh(t *testing.T) {
	f := newRouterFixture(t)
	f.scheduler.prayers = []praytime.PrayerTime{
		{Name: core.PrayerDhuhr, Time: time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC), RakaatCount: 4},
	}

	rec := f.do(t, http.MethodPost, "/v1/schedule/refresh", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.scheduler.refreshs)

	body := decode(t, rec)
	schedule, ok := body["schedule"].([]any)
	require.True(t, ok)
	assert.Len(t, schedule, 1)
}

func TestKioskHeartbeat(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/kiosk/heartbeat",
		map[string]bool{"foreground": true, "pinned": true}, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.kiosk.beats)
}
