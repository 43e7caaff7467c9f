package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KioskReporter receives display client heartbeats
type KioskReporter interface {
	Heartbeat(foreground, pinned bool)
}

// KioskHandler handles display client state reports
type KioskHandler struct {
	kiosk KioskReporter
}

// NewKioskHandler creates a new kiosk handler
func NewKioskHandler(kiosk KioskReporter) *KioskHandler {
	return &KioskHandler{kiosk: kiosk}
}

type heartbeatRequest struct {
	Foreground bool `json:"foreground"`
	Pinned     bool `json:"pinned"`
}

// Heartbeat records the display's self-reported state
// POST /v1/kiosk/heartbeat
func (h *KioskHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "INVALID_REQUEST",
		})
		return
	}
	h.kiosk.Heartbeat(req.Foreground, req.Pinned)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
