package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"salahguard/internal/core"
)

// CompletionsHandler serves and records the daily completion ledger
type CompletionsHandler struct {
	service core.LockService
	logger  *slog.Logger
}

// NewCompletionsHandler creates a new completions handler
func NewCompletionsHandler(service core.LockService, logger *slog.Logger) *CompletionsHandler {
	return &CompletionsHandler{
		service: service,
		logger:  logger,
	}
}

// ListToday returns today's completion records
// GET /v1/completions
func (h *CompletionsHandler) ListToday(c *gin.Context) {
	records, err := h.service.TodayCompletions(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list completions",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve completions",
			"code":  "INTERNAL_ERROR",
		})
		return
	}
	if records == nil {
		records = []*core.CompletionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"completions": records})
}

type markCompleteRequest struct {
	Prayer core.PrayerName `json:"prayer" binding:"required"`
}

// MarkComplete records a parent-attested completion for a prayer
// POST /v1/completions
func (h *CompletionsHandler) MarkComplete(c *gin.Context) {
	var req markCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Request must include a prayer",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	err := h.service.MarkPrayerComplete(c.Request.Context(), req.Prayer, core.CompletionPinVerified)
	if err != nil {
		if errors.Is(err, core.ErrInvalidPrayerName) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown prayer name",
				"code":  "INVALID_PRAYER",
			})
			return
		}
		h.logger.Error("Failed to mark prayer complete",
			"component", "api",
			"prayer", req.Prayer,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to record completion",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prayer": req.Prayer, "status": core.CompletionStatusComplete})
}
