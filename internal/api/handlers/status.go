package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"salahguard/internal/core"
	"salahguard/internal/praytime"
)

// GuardianSessions reports whether a guardian session is running
type GuardianSessions interface {
	Running() bool
}

// ScheduleReader exposes the cached prayer schedule
type ScheduleReader interface {
	ScheduledPrayers() []praytime.PrayerTime
}

// StatusHandler serves the combined device status view
type StatusHandler struct {
	service  core.LockService
	sessions GuardianSessions
	schedule ScheduleReader
	logger   *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(service core.LockService, sessions GuardianSessions, schedule ScheduleReader, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		service:  service,
		sessions: sessions,
		schedule: schedule,
		logger:   logger,
	}
}

type scheduledPrayerView struct {
	Prayer core.PrayerName `json:"prayer"`
	Time   time.Time       `json:"time"`
	Rakaat int             `json:"rakaat"`
}

// GetStatus returns lock state, guardian state and today's schedule
// GET /v1/status
func (h *StatusHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := h.service.IsLockActive(ctx)
	if err != nil {
		h.logger.Error("Failed to read lock state",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve status",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	state, err := h.service.LockState(ctx)
	if err != nil {
		h.logger.Error("Failed to read lock state",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve status",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	var schedule []scheduledPrayerView
	for _, p := range h.schedule.ScheduledPrayers() {
		schedule = append(schedule, scheduledPrayerView{
			Prayer: p.Name,
			Time:   p.Time,
			Rakaat: p.RakaatCount,
		})
	}

	resp := gin.H{
		"lock_active":      active,
		"guardian_running": h.sessions.Running(),
		"schedule":         schedule,
	}
	if active {
		resp["episode_id"] = state.EpisodeID
		resp["prayer"] = state.PrayerName
		resp["rakaat"] = state.RakaatCount
		resp["prayer_time"] = state.PrayerTime
		resp["activated_at"] = state.ActivatedAt
		resp["bypass_suspected"] = state.BypassSuspected
	}

	c.JSON(http.StatusOK, resp)
}
