package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"salahguard/internal/core"
	"salahguard/internal/pin"
)

// PinVerifier checks a candidate PIN against the configured parent PIN
type PinVerifier interface {
	Verify(candidate string) (bool, error)
	Status() pin.LockoutStatus
}

// PinHandler handles parent PIN verification and the resulting unlock
type PinHandler struct {
	service  core.LockService
	verifier PinVerifier
	logger   *slog.Logger
}

// NewPinHandler creates a new PIN handler
func NewPinHandler(service core.LockService, verifier PinVerifier, logger *slog.Logger) *PinHandler {
	return &PinHandler{
		service:  service,
		verifier: verifier,
		logger:   logger,
	}
}

type verifyPinRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// VerifyPin checks the parent PIN and, when a lock is active, clears it
// POST /v1/pin/verify
func (h *PinHandler) VerifyPin(c *gin.Context) {
	var req verifyPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Request must include a pin",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	ok, err := h.verifier.Verify(req.PIN)
	if err != nil {
		if errors.Is(err, pin.ErrLockedOut) {
			status := h.verifier.Status()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":              "Too many failed attempts",
				"code":               "PIN_LOCKED_OUT",
				"cooldown_remaining": status.CooldownRemaining.String(),
			})
			return
		}
		if errors.Is(err, pin.ErrNoPINConfigured) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "No PIN configured",
				"code":  "PIN_NOT_CONFIGURED",
			})
			return
		}
		h.logger.Error("PIN verification failed",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Verification failed",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	if !ok {
		status := h.verifier.Status()
		c.JSON(http.StatusUnauthorized, gin.H{
			"verified":           false,
			"attempts_remaining": status.AttemptsRemaining,
		})
		return
	}

	cleared := false
	err = h.service.ClearLock(c.Request.Context(), core.CompletionPinVerified)
	switch {
	case err == nil:
		cleared = true
	case errors.Is(err, core.ErrLockNotActive):
		// Verified with nothing to unlock; still a success for the caller.
	default:
		h.logger.Error("Failed to clear lock after PIN verification",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "PIN verified but unlock failed",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verified": true,
		"cleared":  cleared,
	})
}
