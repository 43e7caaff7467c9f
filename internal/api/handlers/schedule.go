package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Rescheduler recomputes and re-registers the prayer schedule
type Rescheduler interface {
	CheckAndUpdateSchedule(ctx context.Context, forceReschedule bool) error
}

// ScheduleHandler handles schedule inspection and refresh
type ScheduleHandler struct {
	scheduler Rescheduler
	reader    ScheduleReader
	logger    *slog.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(scheduler Rescheduler, reader ScheduleReader, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: scheduler,
		reader:    reader,
		logger:    logger,
	}
}

// GetSchedule returns the currently registered prayer schedule
// GET /v1/schedule
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	var schedule []scheduledPrayerView
	for _, p := range h.reader.ScheduledPrayers() {
		schedule = append(schedule, scheduledPrayerView{
			Prayer: p.Name,
			Time:   p.Time,
			Rakaat: p.RakaatCount,
		})
	}
	if schedule == nil {
		schedule = []scheduledPrayerView{}
	}
	c.JSON(http.StatusOK, gin.H{"schedule": schedule})
}

// RefreshSchedule forces a schedule recomputation, bypassing the debounce
// POST /v1/schedule/refresh
func (h *ScheduleHandler) RefreshSchedule(c *gin.Context) {
	if err := h.scheduler.CheckAndUpdateSchedule(c.Request.Context(), true); err != nil {
		h.logger.Error("Failed to refresh schedule",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to refresh schedule",
			"code":  "INTERNAL_ERROR",
		})
		return
	}
	h.GetSchedule(c)
}
