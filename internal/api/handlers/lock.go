package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"salahguard/internal/core"
)

const (
	defaultTestLockSeconds = 60
	maxTestLockSeconds     = 600
)

// GuardianLauncher starts a guardian session for an activated lock
type GuardianLauncher interface {
	Launch(prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error
}

// LockHandler handles operator lock commands
type LockHandler struct {
	service  core.LockService
	launcher GuardianLauncher
	logger   *slog.Logger
}

// NewLockHandler creates a new lock handler
func NewLockHandler(service core.LockService, launcher GuardianLauncher, logger *slog.Logger) *LockHandler {
	return &LockHandler{
		service:  service,
		launcher: launcher,
		logger:   logger,
	}
}

type testLockRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// TestLock starts a short test episode exercising the full lock pipeline
// POST /v1/lock/test
func (h *LockHandler) TestLock(c *gin.Context) {
	// Body is optional; an empty body means the default duration.
	var req testLockRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		duration = defaultTestLockSeconds
	}
	if duration > maxTestLockSeconds {
		duration = maxTestLockSeconds
	}

	ctx := c.Request.Context()
	now := time.Now()
	rakaat := core.DefaultRakaat[core.PrayerTest]

	if err := h.service.ActivateLock(ctx, core.PrayerTest, rakaat, now); err != nil {
		h.logger.Error("Failed to activate test lock",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to activate test lock",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	if err := h.launcher.Launch(core.PrayerTest, rakaat, now); err != nil {
		h.logger.Error("Failed to launch test guardian",
			"component", "api",
			"error", err,
		)
	}

	// Test episodes expire themselves; no alarm dispatch is involved.
	expireAt := now.Add(time.Duration(duration) * time.Second)
	time.AfterFunc(time.Until(expireAt), func() {
		ctx := context.Background()
		prayer, _, err := h.service.ActivePrayer(ctx)
		if err != nil || prayer != core.PrayerTest {
			// A real episode took over in the meantime; leave it alone.
			return
		}
		if err := h.service.ClearLock(ctx, core.CompletionAutoExpired); err != nil &&
			!errors.Is(err, core.ErrLockNotActive) {
			h.logger.Error("Failed to expire test lock", "component", "api", "error", err)
		}
	})

	c.JSON(http.StatusAccepted, gin.H{
		"prayer":     core.PrayerTest,
		"expires_at": expireAt,
	})
}

type forceClearRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ForceClear clears the lock out of band (admin override)
// POST /v1/lock/force-clear
func (h *LockHandler) ForceClear(c *gin.Context) {
	var req forceClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Request must include a reason",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	if err := h.service.ForceClear(c.Request.Context(), req.Reason); err != nil {
		h.logger.Error("Failed to force-clear lock",
			"component", "api",
			"reason", req.Reason,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear lock",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	h.logger.Warn("Lock force-cleared via API",
		"component", "api",
		"reason", req.Reason,
		"request_id", c.GetString("X-Request-ID"),
	)
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
