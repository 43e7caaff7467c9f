package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/clock"
	"salahguard/internal/idgen"
)

// Storage interface defines required ledger storage operations
type Storage interface {
	GetLockState(ctx context.Context) (*LockState, error)
	SaveLockState(ctx context.Context, state *LockState) error

	GetSnapshot(ctx context.Context) (*PrayerSnapshot, error)
	SaveSnapshot(ctx context.Context, snap *PrayerSnapshot) error

	GetCompletion(ctx context.Context, prayer PrayerName, date time.Time) (*CompletionRecord, error)
	SaveCompletion(ctx context.Context, rec *CompletionRecord) error
	ListCompletions(ctx context.Context, date time.Time) ([]*CompletionRecord, error)

	GetOwnerToken(ctx context.Context) (*OwnerToken, error)
	SaveOwnerToken(ctx context.Context, token *OwnerToken) error
	DeleteOwnerToken(ctx context.Context, id string) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)
}

// UnlockSink receives the "unlock complete" signal on every legitimate clear.
// Implementations must not block; the fan-out is off the unlock critical path.
type UnlockSink interface {
	UnlockCompleted(prayer PrayerName, completionType CompletionType, at time.Time)
}

const (
	// GracePeriod suppresses bypass detection after a legitimate unlock.
	// It absorbs the latency between the unlock write and a watchdog's next
	// poll so a parent unlock is not immediately re-locked.
	GracePeriod = 30 * time.Second

	// SafetyCeiling force-expires any lock older than this, so a corrupted
	// state can never leave a device permanently stuck.
	SafetyCeiling = 48 * time.Hour

	// TokenLease bounds how long a guardian owner token stays valid without
	// renewal. A dead guardian's token lapses after this and a fresh launch
	// can take over.
	TokenLease = 90 * time.Second
)

// LockManager is the typed wrapper around the durable ledger. It owns every
// lock-state transition; it is the only component permitted to decide
// "we are now unlocked."
type LockManager struct {
	storage  Storage
	clock    clock.Clock
	timezone *time.Location
	logger   *slog.Logger
	sink     UnlockSink

	// lockMu serializes lock-state read-modify-write cycles. Completion
	// writes for individual prayers take a per-prayer mutex, so an
	// unrelated prayer's ledger write never blocks an active episode.
	// Lock order is lockMu before a per-prayer mutex, never the reverse.
	lockMu       sync.Mutex
	completionMu map[PrayerName]*sync.Mutex
	mapMu        sync.Mutex

	// recovering is the "bypass recovery in flight" marker. While set,
	// DetectBypass reports false so concurrent watchdogs do not stack
	// duplicate recoveries for the same incident.
	recoverMu  sync.Mutex
	recovering bool
}

// NewLockManager creates a new lock manager
func NewLockManager(storage Storage, clk clock.Clock, timezone *time.Location, sink UnlockSink, logger *slog.Logger) *LockManager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if timezone == nil {
		timezone = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		storage:      storage,
		clock:        clk,
		timezone:     timezone,
		sink:         sink,
		logger:       logger.With("component", "lockmanager"),
		completionMu: make(map[PrayerName]*sync.Mutex),
	}
}

func (m *LockManager) prayerMu(prayer PrayerName) *sync.Mutex {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	mu, ok := m.completionMu[prayer]
	if !ok {
		mu = &sync.Mutex{}
		m.completionMu[prayer] = mu
	}
	return mu
}

// ActivateLock activates a lock episode for the given prayer. Idempotent:
// re-activating the same (prayer, scheduledTime) episode is a no-op, so a
// retried trigger or an overlapping watchdog recovery cannot reset a live
// episode's exit markers.
func (m *LockManager) ActivateLock(ctx context.Context, prayer PrayerName, rakaatCount int, scheduledTime time.Time) error {
	if !prayer.Valid() {
		return ErrInvalidPrayerName
	}
	if rakaatCount <= 0 {
		return ErrInvalidRakaatCount
	}

	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	state, err := m.storage.GetLockState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read lock state: %w", err)
	}

	now := m.clock.Now()

	if state.Active && state.SameEpisode(prayer, scheduledTime) {
		m.logger.Debug("lock already active for episode, skipping",
			"prayer", prayer, "scheduled_time", scheduledTime)
		// Refresh the snapshot so recovery keeps working even if the
		// original write never made it to disk.
		return m.writeSnapshot(ctx, prayer, rakaatCount, scheduledTime, now)
	}

	state.Active = true
	state.EpisodeID = idgen.NewEpisode()
	state.PrayerName = prayer
	state.RakaatCount = rakaatCount
	state.PrayerTime = scheduledTime
	state.PinVerified = false
	state.PrayerComplete = false
	state.BypassSuspected = false
	state.ActivatedAt = now
	state.UpdatedAt = now

	if err := m.storage.SaveLockState(ctx, state); err != nil {
		return fmt.Errorf("failed to save lock state: %w", err)
	}

	if err := m.writeSnapshot(ctx, prayer, rakaatCount, scheduledTime, now); err != nil {
		return err
	}

	m.audit(ctx, "activate", prayer, "", fmt.Sprintf("episode=%s rakaat=%d scheduled=%s", state.EpisodeID, rakaatCount, scheduledTime.Format(time.RFC3339)))
	m.logger.Info("lock activated", "prayer", prayer, "episode", state.EpisodeID, "rakaat", rakaatCount, "scheduled_time", scheduledTime)
	return nil
}

func (m *LockManager) writeSnapshot(ctx context.Context, prayer PrayerName, rakaatCount int, scheduledTime, now time.Time) error {
	snap := &PrayerSnapshot{
		PrayerName:  prayer,
		RakaatCount: rakaatCount,
		PrayerTime:  scheduledTime,
		WrittenAt:   now,
	}
	if err := m.storage.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to save prayer snapshot: %w", err)
	}
	return nil
}

// ClearLock ends the active lock episode for a legitimate reason. This is the
// only normal-operation path that sets Active=false; process death, task
// eviction or force-stop never clears the flag.
func (m *LockManager) ClearLock(ctx context.Context, reason CompletionType) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	state, err := m.storage.GetLockState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read lock state: %w", err)
	}

	if !state.Active {
		m.logger.Debug("clear requested but no lock active", "reason", reason)
		return ErrLockNotActive
	}

	now := m.clock.Now()
	prayer := state.PrayerName

	state.Active = false
	state.BypassSuspected = false
	state.LastUnlockTime = now
	state.VeryRecentUnlockTime = now
	state.UpdatedAt = now

	switch reason {
	case CompletionPinVerified:
		state.PinVerified = true
	case CompletionPrayerPerformed:
		state.PrayerComplete = true
	}

	if err := m.storage.SaveLockState(ctx, state); err != nil {
		return fmt.Errorf("failed to save lock state: %w", err)
	}

	// The recovery marker must not survive a legitimate unlock.
	m.ClearBypassDetection()

	// Record the day's outcome. Auto-expiry means the window closed without
	// a performance, which counts as missed rather than complete. The
	// per-prayer mutex keeps this read-modify-write atomic against a
	// concurrent MarkPrayerMissed or MarkPrayerComplete for the same prayer.
	if prayer != PrayerTest {
		mu := m.prayerMu(prayer)
		mu.Lock()
		if reason == CompletionAutoExpired {
			m.markMissedLocked(ctx, prayer, CompletionAutoExpired, now)
		} else {
			m.markCompleteLocked(ctx, prayer, reason, now)
		}
		mu.Unlock()
	}

	m.audit(ctx, "clear", prayer, string(reason), "")
	m.logger.Info("lock cleared", "prayer", prayer, "reason", reason)

	if m.sink != nil {
		m.sink.UnlockCompleted(prayer, reason, now)
	}
	return nil
}

// AutoExpire clears the lock with AutoExpired, but only while the given
// episode is still the active one. A stale auto-unlock alarm firing after a
// newer episode activated must not clear the newer lock.
func (m *LockManager) AutoExpire(ctx context.Context, prayer PrayerName, scheduledTime time.Time) error {
	m.lockMu.Lock()
	state, err := m.storage.GetLockState(ctx)
	if err != nil {
		m.lockMu.Unlock()
		return fmt.Errorf("failed to read lock state: %w", err)
	}
	sameEpisode := state.Active && state.SameEpisode(prayer, scheduledTime)
	m.lockMu.Unlock()

	if !sameEpisode {
		m.logger.Debug("auto-expire skipped, episode no longer active",
			"prayer", prayer, "scheduled_time", scheduledTime)
		return nil
	}
	if err := m.ClearLock(ctx, CompletionAutoExpired); err != nil && !errors.Is(err, ErrLockNotActive) {
		return err
	}
	return nil
}

// ForceClear is the administrative override for a stuck or corrupted lock.
// It bypasses the completion ledger entirely and leaves an audit trail.
func (m *LockManager) ForceClear(ctx context.Context, reason string) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	state, err := m.storage.GetLockState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read lock state: %w", err)
	}

	now := m.clock.Now()
	prayer := state.PrayerName

	state.Active = false
	state.BypassSuspected = false
	state.LastUnlockTime = now
	state.VeryRecentUnlockTime = now
	state.UpdatedAt = now

	if err := m.storage.SaveLockState(ctx, state); err != nil {
		return fmt.Errorf("failed to save lock state: %w", err)
	}

	m.ClearBypassDetection()

	m.audit(ctx, "force_clear", prayer, reason, "administrative override")
	m.logger.Warn("lock force-cleared", "prayer", prayer, "reason", reason)
	return nil
}

// IsLockActive reports whether a lock episode is currently active. A lock
// older than the safety ceiling is force-expired on first read.
func (m *LockManager) IsLockActive(ctx context.Context) (bool, error) {
	m.lockMu.Lock()
	state, err := m.storage.GetLockState(ctx)
	m.lockMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to read lock state: %w", err)
	}
	if !state.Active {
		return false, nil
	}

	if m.clock.Now().Sub(state.ActivatedAt) > SafetyCeiling {
		m.logger.Warn("lock exceeded safety ceiling, force-expiring",
			"prayer", state.PrayerName, "activated_at", state.ActivatedAt)
		if err := m.ForceClear(ctx, "safety ceiling exceeded"); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// ActivePrayer returns the currently active prayer and rakaat count, or
// ("", 0) when no lock is active.
func (m *LockManager) ActivePrayer(ctx context.Context) (PrayerName, int, error) {
	active, err := m.IsLockActive(ctx)
	if err != nil {
		return "", 0, err
	}
	if !active {
		return "", 0, nil
	}
	state, err := m.storage.GetLockState(ctx)
	if err != nil {
		return "", 0, err
	}
	return state.PrayerName, state.RakaatCount, nil
}

// LockState returns a copy of the current lock state
func (m *LockManager) LockState(ctx context.Context) (*LockState, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return m.storage.GetLockState(ctx)
}

// LastValidPrayer is the fallback source of truth for recovery. It prefers
// the live state but degrades to the last-written snapshot when the live
// active fields are stale (fresh process start, unflushed write).
func (m *LockManager) LastValidPrayer(ctx context.Context) (PrayerName, int, error) {
	state, err := m.storage.GetLockState(ctx)
	if err == nil && state.Active && state.PrayerName.Valid() && state.RakaatCount > 0 {
		return state.PrayerName, state.RakaatCount, nil
	}

	snap, snapErr := m.storage.GetSnapshot(ctx)
	if snapErr != nil {
		return "", 0, fmt.Errorf("failed to read prayer snapshot: %w", snapErr)
	}
	if snap == nil || !snap.PrayerName.Valid() {
		return "", 0, nil
	}
	return snap.PrayerName, snap.RakaatCount, nil
}

// DetectBypass applies the bypass heuristic: an active lock with no
// legitimate-exit marker, outside the post-unlock grace period. The first
// positive detection arms the recovery marker; further calls report false
// until ClearBypassDetection so concurrent watchdogs cannot double-recover.
func (m *LockManager) DetectBypass(ctx context.Context) (bool, error) {
	m.lockMu.Lock()
	state, err := m.storage.GetLockState(ctx)
	m.lockMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to read lock state: %w", err)
	}

	if !state.Active || state.PinVerified || state.PrayerComplete {
		return false, nil
	}

	now := m.clock.Now()
	if !state.LastUnlockTime.IsZero() && now.Sub(state.LastUnlockTime) <= GracePeriod {
		return false, nil
	}
	if !state.VeryRecentUnlockTime.IsZero() && now.Sub(state.VeryRecentUnlockTime) <= GracePeriod {
		return false, nil
	}

	m.recoverMu.Lock()
	defer m.recoverMu.Unlock()
	if m.recovering {
		return false, nil
	}
	m.recovering = true

	m.lockMu.Lock()
	state.BypassSuspected = true
	state.UpdatedAt = now
	saveErr := m.storage.SaveLockState(ctx, state)
	m.lockMu.Unlock()
	if saveErr != nil {
		m.logger.Error("failed to persist bypass suspicion", "error", saveErr)
	}

	m.audit(ctx, "bypass_detected", state.PrayerName, "", "")
	m.logger.Warn("bypass detected", "prayer", state.PrayerName, "activated_at", state.ActivatedAt)
	return true, nil
}

// ClearBypassDetection resets the recovery-in-flight marker so a subsequent
// DetectBypass call can re-trigger if the same bypass persists.
func (m *LockManager) ClearBypassDetection() {
	m.recoverMu.Lock()
	m.recovering = false
	m.recoverMu.Unlock()
}

// MarkPrayerComplete records a completed prayer for today. Monotonic per day:
// complete-after-missed is allowed (late completion), and re-marking a
// completed prayer keeps the original record.
func (m *LockManager) MarkPrayerComplete(ctx context.Context, prayer PrayerName, completionType CompletionType) error {
	if !prayer.Valid() {
		return ErrInvalidPrayerName
	}
	mu := m.prayerMu(prayer)
	mu.Lock()
	defer mu.Unlock()
	return m.markCompleteLocked(ctx, prayer, completionType, m.clock.Now())
}

func (m *LockManager) markCompleteLocked(ctx context.Context, prayer PrayerName, completionType CompletionType, now time.Time) error {
	date := NormalizeDate(now, m.timezone)
	existing, err := m.storage.GetCompletion(ctx, prayer, date)
	if err != nil {
		return fmt.Errorf("failed to read completion record: %w", err)
	}
	if existing != nil && existing.Status == CompletionStatusComplete {
		return nil
	}

	rec := &CompletionRecord{
		PrayerName: prayer,
		Date:       date,
		Status:     CompletionStatusComplete,
		Type:       completionType,
		Timestamp:  now,
		UpdatedAt:  now,
	}
	if err := m.storage.SaveCompletion(ctx, rec); err != nil {
		return fmt.Errorf("failed to save completion record: %w", err)
	}
	m.logger.Info("prayer marked complete", "prayer", prayer, "type", completionType)
	return nil
}

// MarkPrayerMissed records a missed prayer for today. Marking missed after
// complete is a no-op: the completion ledger only moves forward within a day.
func (m *LockManager) MarkPrayerMissed(ctx context.Context, prayer PrayerName) error {
	if !prayer.Valid() {
		return ErrInvalidPrayerName
	}
	mu := m.prayerMu(prayer)
	mu.Lock()
	defer mu.Unlock()
	return m.markMissedLocked(ctx, prayer, "", m.clock.Now())
}

func (m *LockManager) markMissedLocked(ctx context.Context, prayer PrayerName, completionType CompletionType, now time.Time) error {
	date := NormalizeDate(now, m.timezone)
	existing, err := m.storage.GetCompletion(ctx, prayer, date)
	if err != nil {
		return fmt.Errorf("failed to read completion record: %w", err)
	}
	if existing != nil && existing.Status == CompletionStatusComplete {
		m.logger.Warn("ignoring missed mark for already-completed prayer", "prayer", prayer)
		return nil
	}

	rec := &CompletionRecord{
		PrayerName: prayer,
		Date:       date,
		Status:     CompletionStatusMissed,
		Type:       completionType,
		Timestamp:  now,
		UpdatedAt:  now,
	}
	if err := m.storage.SaveCompletion(ctx, rec); err != nil {
		return fmt.Errorf("failed to save completion record: %w", err)
	}
	m.logger.Info("prayer marked missed", "prayer", prayer)
	return nil
}

// IsPrayerComplete reports whether the prayer is complete for today
func (m *LockManager) IsPrayerComplete(ctx context.Context, prayer PrayerName) (bool, error) {
	date := NormalizeDate(m.clock.Now(), m.timezone)
	rec, err := m.storage.GetCompletion(ctx, prayer, date)
	if err != nil {
		return false, fmt.Errorf("failed to read completion record: %w", err)
	}
	return rec != nil && rec.Status == CompletionStatusComplete, nil
}

// TodayCompletions lists today's completion records
func (m *LockManager) TodayCompletions(ctx context.Context) ([]*CompletionRecord, error) {
	date := NormalizeDate(m.clock.Now(), m.timezone)
	return m.storage.ListCompletions(ctx, date)
}

// AcquireGuardian acquires the guardian owner token for a lock episode.
// At most one unexpired token exists at a time; a holder from a dead process
// is taken over once its lease lapses, with the fence incremented so the
// stale holder's writes can be recognized as stale.
func (m *LockManager) AcquireGuardian(ctx context.Context, prayer PrayerName, prayerTime time.Time) (*OwnerToken, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	now := m.clock.Now()
	existing, err := m.storage.GetOwnerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read owner token: %w", err)
	}

	var fence int64 = 1
	if existing != nil {
		if !existing.Expired(now) {
			return nil, ErrGuardianActive
		}
		fence = existing.Fence + 1
		m.logger.Warn("taking over expired guardian token",
			"stale_id", existing.ID, "new_fence", fence)
	}

	token := &OwnerToken{
		ID:         idgen.NewToken(),
		Fence:      fence,
		PrayerName: prayer,
		PrayerTime: prayerTime,
		AcquiredAt: now,
		ExpiresAt:  now.Add(TokenLease),
	}
	if err := m.storage.SaveOwnerToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save owner token: %w", err)
	}
	return token, nil
}

// RenewGuardian extends the lease on a held token
func (m *LockManager) RenewGuardian(ctx context.Context, token *OwnerToken) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	current, err := m.storage.GetOwnerToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to read owner token: %w", err)
	}
	if current == nil || current.ID != token.ID {
		return ErrTokenNotHeld
	}

	token.ExpiresAt = m.clock.Now().Add(TokenLease)
	if err := m.storage.SaveOwnerToken(ctx, token); err != nil {
		return fmt.Errorf("failed to save owner token: %w", err)
	}
	return nil
}

// ReleaseGuardian releases a held token. Releasing a token that was already
// taken over is a no-op.
func (m *LockManager) ReleaseGuardian(ctx context.Context, token *OwnerToken) error {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	current, err := m.storage.GetOwnerToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to read owner token: %w", err)
	}
	if current == nil || current.ID != token.ID {
		return nil
	}
	return m.storage.DeleteOwnerToken(ctx, token.ID)
}

// RecordRecovery audits a watchdog-initiated guardian relaunch
func (m *LockManager) RecordRecovery(ctx context.Context, prayer PrayerName, detail string) {
	m.audit(ctx, "bypass_recovery", prayer, "", detail)
}

// ListAudit returns the most recent audit entries
func (m *LockManager) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	return m.storage.ListAudit(ctx, limit)
}

func (m *LockManager) audit(ctx context.Context, action string, prayer PrayerName, reason, detail string) {
	entry := &AuditEntry{
		ID:         idgen.NewAudit(),
		Action:     action,
		PrayerName: prayer,
		Reason:     reason,
		Detail:     detail,
		At:         m.clock.Now(),
	}
	if err := m.storage.AppendAudit(ctx, entry); err != nil {
		m.logger.Error("failed to append audit entry", "action", action, "error", err)
	}
}
