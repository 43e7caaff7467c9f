package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salahguard/internal/core"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := New(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestLockStateRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Fresh database yields a zero-value state, never nil.
	state, err := s.GetLockState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Active)

	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	saved := &core.LockState{
		Active:      true,
		EpisodeID:   "ep_roundtrip",
		PrayerName:  core.PrayerDhuhr,
		RakaatCount: 4,
		PrayerTime:  now,
		ActivatedAt: now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.SaveLockState(ctx, saved))

	state, err = s.GetLockState(ctx)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, "ep_roundtrip", state.EpisodeID)
	assert.Equal(t, core.PrayerDhuhr, state.PrayerName)
	assert.Equal(t, 4, state.RakaatCount)
	assert.True(t, state.PrayerTime.Equal(now))
	assert.True(t, state.LastUnlockTime.IsZero(), "null time columns come back zero")

	// The single row is updated in place.
	saved.Active = false
	saved.PinVerified = true
	saved.LastUnlockTime = now.Add(time.Hour)
	require.NoError(t, s.SaveLockState(ctx, saved))

	state, err = s.GetLockState(ctx)
	require.NoError(t, err)
	assert.False(t, state.Active)
	assert.True(t, state.PinVerified)
	assert.True(t, state.LastUnlockTime.Equal(now.Add(time.Hour)))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	snap, err := s.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSnapshot(ctx, &core.PrayerSnapshot{
		PrayerName:  core.PrayerAsr,
		RakaatCount: 4,
		PrayerTime:  now,
		WrittenAt:   now,
	}))

	snap, err = s.GetSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, core.PrayerAsr, snap.PrayerName)
	assert.Equal(t, 4, snap.RakaatCount)
}

func TestCompletionRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC)

	rec, err := s.GetCompletion(ctx, core.PrayerFajr, day)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.SaveCompletion(ctx, &core.CompletionRecord{
		PrayerName: core.PrayerFajr,
		Date:       day,
		Status:     core.CompletionStatusComplete,
		Type:       core.CompletionPrayerPerformed,
		Timestamp:  day,
		UpdatedAt:  day,
	}))

	// Lookup normalizes the date, so any time within the day matches.
	rec, err = s.GetCompletion(ctx, core.PrayerFajr, day.Add(5*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, core.CompletionStatusComplete, rec.Status)
	assert.Equal(t, core.CompletionPrayerPerformed, rec.Type)

	require.NoError(t, s.SaveCompletion(ctx, &core.CompletionRecord{
		PrayerName: core.PrayerDhuhr,
		Date:       day,
		Status:     core.CompletionStatusMissed,
		Timestamp:  day.Add(time.Hour),
		UpdatedAt:  day.Add(time.Hour),
	}))

	records, err := s.ListCompletions(ctx, day)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = s.ListCompletions(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMarkHandledOnce(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)

	inserted, err := s.MarkHandled(ctx, "lock:Dhuhr:1749560400", now)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.MarkHandled(ctx, "lock:Dhuhr:1749560400", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, inserted, "a key fires exactly once")

	inserted, err = s.MarkHandled(ctx, "adhan:Dhuhr:1749560400", now)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestPurgeDedupBefore(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)

	_, err := s.MarkHandled(ctx, "old", now.Add(-25*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkHandled(ctx, "fresh", now)
	require.NoError(t, err)

	purged, err := s.PurgeDedupBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	// The purged key may be handled again.
	inserted, err := s.MarkHandled(ctx, "old", now)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.MarkHandled(ctx, "fresh", now)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestOwnerTokenRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)

	token, err := s.GetOwnerToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)

	require.NoError(t, s.SaveOwnerToken(ctx, &core.OwnerToken{
		ID:         "tok-1",
		Fence:      1,
		PrayerName: core.PrayerMaghrib,
		PrayerTime: now,
		AcquiredAt: now,
		ExpiresAt:  now.Add(90 * time.Second),
	}))

	token, err = s.GetOwnerToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-1", token.ID)
	assert.EqualValues(t, 1, token.Fence)

	// Deleting with a stale holder id is a no-op.
	require.NoError(t, s.DeleteOwnerToken(ctx, "tok-0"))
	token, err = s.GetOwnerToken(ctx)
	require.NoError(t, err)
	assert.NotNil(t, token)

	require.NoError(t, s.DeleteOwnerToken(ctx, "tok-1"))
	token, err = s.GetOwnerToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestAuditLog(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendAudit(ctx, &core.AuditEntry{
			ID:         string(rune('a' + i)),
			Action:     "activate",
			PrayerName: core.PrayerDhuhr,
			At:         base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.ListAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].ID, "newest first")
	assert.Equal(t, "b", entries[1].ID)

	entries, err = s.ListAudit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "non-positive limit falls back to the default")
}
