package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"salahguard/internal/core"
)

const defaultAuditLimit = 100

// AuditHandler serves the lock audit trail
type AuditHandler struct {
	service core.LockService
	logger  *slog.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(service core.LockService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

// ListAudit returns recent audit entries, newest first
// GET /v1/audit?limit=
func (h *AuditHandler) ListAudit(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
				"code":  "INVALID_REQUEST",
			})
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListAudit(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list audit entries",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve audit log",
			"code":  "INTERNAL_ERROR",
		})
		return
	}
	if entries == nil {
		entries = []*core.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
