// Package kiosk implements the task-pinning capability on top of the
// attached lock display. The daemon cannot pin anything itself; it
// commands the display client over the event stream and trusts the
// client's heartbeats as the observed state.
package kiosk

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"salahguard/internal/clock"
)

// heartbeatTTL is how long a heartbeat stays fresh. A display that has
// not reported within this window counts as gone.
const heartbeatTTL = 10 * time.Second

// Broadcaster delivers a command frame to connected display clients
type Broadcaster interface {
	Broadcast(message []byte)
}

type command struct {
	Type string `json:"type"`
}

// DisplayKiosk tracks the display client's reported state and issues
// pin/unpin commands.
type DisplayKiosk struct {
	hub    Broadcaster
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	lastBeat   time.Time
	foreground bool
	pinned     bool
}

// New creates a display-backed kiosk
func New(hub Broadcaster, clk clock.Clock, logger *slog.Logger) *DisplayKiosk {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DisplayKiosk{
		hub:    hub,
		clock:  clk,
		logger: logger.With("component", "kiosk"),
	}
}

// PinToForeground commands the display into pinned lock mode
func (k *DisplayKiosk) PinToForeground() error {
	k.send("pin")
	return nil
}

// Unpin commands the display out of pinned lock mode
func (k *DisplayKiosk) Unpin() error {
	k.send("unpin")
	return nil
}

// IsCurrentlyPinned reports the display's last confirmed pin state.
// A stale heartbeat means not pinned: an unreachable display cannot be
// trusted to be holding the lock.
func (k *DisplayKiosk) IsCurrentlyPinned() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pinned && k.fresh()
}

// IsLockForeground reports whether the lock screen is frontmost
func (k *DisplayKiosk) IsLockForeground() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.foreground && k.fresh()
}

// Attached reports whether a display has heartbeat recently at all
func (k *DisplayKiosk) Attached() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fresh()
}

// Heartbeat records the display client's self-reported state
func (k *DisplayKiosk) Heartbeat(foreground, pinned bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastBeat = k.clock.Now()
	k.foreground = foreground
	k.pinned = pinned
}

func (k *DisplayKiosk) fresh() bool {
	return !k.lastBeat.IsZero() && k.clock.Now().Sub(k.lastBeat) < heartbeatTTL
}

func (k *DisplayKiosk) send(typ string) {
	payload, err := json.Marshal(command{Type: typ})
	if err != nil {
		k.logger.Error("failed to marshal kiosk command", "type", typ, "error", err)
		return
	}
	k.hub.Broadcast(payload)
	k.logger.Debug("kiosk command sent", "type", typ)
}
