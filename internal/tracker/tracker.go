// Package tracker consumes the pose-detection pipeline's position events and
// counts rakaat. The ML pipeline itself is external; this package only holds
// the small state machine that turns its discrete position stream into
// "prayer complete."
package tracker

import (
	"log/slog"
	"sync"
	"time"
)

// Position is a discrete body position reported by the pose pipeline
type Position string

const (
	PositionStanding    Position = "standing"
	PositionBowing      Position = "bowing"
	PositionProstrating Position = "prostrating"
	PositionSitting     Position = "sitting"
)

// PositionEvent is one observation from the pose pipeline
type PositionEvent struct {
	Position   Position
	Confidence float64
	At         time.Time
}

// minConfidence filters low-quality skeleton classifications
const minConfidence = 0.6

// RakaatTracker counts rakaat from position events. A rakaat is counted on
// leaving the second prostration; the prayer is complete once the target
// count is reached and the final sitting is observed.
type RakaatTracker struct {
	logger *slog.Logger

	mu          sync.Mutex
	target      int
	count       int
	current     Position
	prostration int // prostration entries within the current rakaat
	complete    bool
	onComplete  func()
}

// New creates a tracker for the given rakaat target. onComplete fires once,
// on the transition to complete; it may be nil.
func New(target int, onComplete func(), logger *slog.Logger) *RakaatTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RakaatTracker{
		logger:     logger.With("component", "tracker"),
		target:     target,
		onComplete: onComplete,
	}
}

// Observe feeds one position event into the state machine
func (t *RakaatTracker) Observe(e PositionEvent) {
	if e.Confidence < minConfidence {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.complete || e.Position == t.current {
		return
	}

	previous := t.current
	t.current = e.Position

	switch e.Position {
	case PositionProstrating:
		t.prostration++

	case PositionStanding, PositionSitting:
		if previous == PositionProstrating && t.prostration >= 2 {
			t.count++
			t.prostration = 0
			t.logger.Debug("rakaat counted", "count", t.count, "target", t.target)
		}
		if t.count >= t.target && e.Position == PositionSitting {
			t.complete = true
			t.logger.Info("prayer completion detected", "rakaat", t.count)
			if t.onComplete != nil {
				// callback must not block the event stream
				go t.onComplete()
			}
		}
	}
}

// Count returns the rakaat counted so far
func (t *RakaatTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// CurrentPosition returns the last accepted position
func (t *RakaatTracker) CurrentPosition() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// IsComplete reports whether the target rakaat count has been reached
func (t *RakaatTracker) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete
}
