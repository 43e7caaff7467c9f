package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func observe(t *RakaatTracker, positions ...Position) {
	at := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	for _, p := range positions {
		t.Observe(PositionEvent{Position: p, Confidence: 0.9, At: at})
		at = at.Add(5 * time.Second)
	}
}

// oneRakaat is the position cycle that counts a single rakaat: standing,
// bowing, two prostrations separated by sitting, then rising.
func oneRakaat(t *RakaatTracker, rise Position) {
	observe(t,
		PositionStanding,
		PositionBowing,
		PositionProstrating,
		PositionSitting,
		PositionProstrating,
		rise,
	)
}

func TestCountsRakaatOnSecondProstration(t *testing.T) {
	tr := New(2, nil, nil)

	oneRakaat(tr, PositionStanding)
	assert.Equal(t, 1, tr.Count())
	assert.False(t, tr.IsComplete())

	oneRakaat(tr, PositionSitting)
	assert.Equal(t, 2, tr.Count())
	assert.True(t, tr.IsComplete(), "final sitting after the target count completes the prayer")
}

func TestSingleProstrationDoesNotCount(t *testing.T) {
	tr := New(2, nil, nil)

	observe(tr,
		PositionStanding,
		PositionBowing,
		PositionProstrating,
		PositionStanding,
	)
	assert.Zero(t, tr.Count())
}

func TestCompletionRequiresFinalSitting(t *testing.T) {
	tr := New(1, nil, nil)

	oneRakaat(tr, PositionStanding)
	assert.Equal(t, 1, tr.Count())
	assert.False(t, tr.IsComplete(), "reaching the count while standing is not completion")

	observe(tr, PositionSitting)
	assert.True(t, tr.IsComplete())
}

func TestLowConfidenceEventsIgnored(t *testing.T) {
	tr := New(1, nil, nil)

	tr.Observe(PositionEvent{Position: PositionProstrating, Confidence: 0.3})
	assert.Equal(t, Position(""), tr.CurrentPosition())
}

func TestRepeatedPositionIgnored(t *testing.T) {
	tr := New(1, nil, nil)

	observe(tr,
		PositionStanding,
		PositionProstrating,
		PositionProstrating, // duplicate report, not a second prostration
		PositionStanding,
	)
	assert.Zero(t, tr.Count())
}

func TestOnCompleteFiresOnce(t *testing.T) {
	done := make(chan struct{}, 2)
	tr := New(1, func() { done <- struct{}{} }, nil)

	oneRakaat(tr, PositionSitting)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}

	// Events after completion are ignored and cannot re-fire the callback.
	oneRakaat(tr, PositionSitting)
	assert.Equal(t, 1, tr.Count())
	select {
	case <-done:
		t.Fatal("completion callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}
