// Package pin verifies the parent PIN and enforces a lockout policy after
// repeated failures.
package pin

import (
	"errors"
	"sync"
	"time"

	"salahguard/internal/clock"

	"golang.org/x/crypto/bcrypt"
)

const (
	maxAttempts     = 5
	lockoutCooldown = 5 * time.Minute
)

var (
	ErrNoPINConfigured = errors.New("no PIN configured")
	ErrLockedOut       = errors.New("PIN entry locked out")
)

// LockoutStatus describes the current lockout policy state
type LockoutStatus struct {
	IsLocked          bool
	AttemptsRemaining int
	CooldownRemaining time.Duration
}

// Verifier checks candidate PINs against a stored bcrypt hash
type Verifier struct {
	clock clock.Clock

	mu          sync.Mutex
	hash        []byte
	failures    int
	lockedUntil time.Time
}

// NewVerifier creates a verifier for a stored bcrypt hash. An empty hash is
// allowed; verification then always fails with ErrNoPINConfigured.
func NewVerifier(hash string, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Verifier{clock: clk, hash: []byte(hash)}
}

// HashPIN produces a bcrypt hash for storing a new PIN
func HashPIN(pin string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify checks a candidate PIN. A wrong PIN counts toward the lockout
// threshold; a correct PIN resets it. During a lockout every call returns
// ErrLockedOut without consulting the hash.
func (v *Verifier) Verify(candidate string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.hash) == 0 {
		return false, ErrNoPINConfigured
	}

	now := v.clock.Now()
	if now.Before(v.lockedUntil) {
		return false, ErrLockedOut
	}

	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(candidate)); err != nil {
		v.failures++
		if v.failures >= maxAttempts {
			v.lockedUntil = now.Add(lockoutCooldown)
			v.failures = 0
		}
		return false, nil
	}

	v.failures = 0
	v.lockedUntil = time.Time{}
	return true, nil
}

// Status returns the current lockout state
func (v *Verifier) Status() LockoutStatus {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	if now.Before(v.lockedUntil) {
		return LockoutStatus{
			IsLocked:          true,
			AttemptsRemaining: 0,
			CooldownRemaining: v.lockedUntil.Sub(now),
		}
	}
	return LockoutStatus{
		IsLocked:          false,
		AttemptsRemaining: maxAttempts - v.failures,
	}
}
