package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maleckot/umrec-sub006/internal/service"
)

// CalendarHandler 审查截止日历订阅
type CalendarHandler struct {
	calendarSvc service.CalendarService
}

// NewCalendarHandler 创建 CalendarHandler
func NewCalendarHandler(calendarSvc service.CalendarService) *CalendarHandler {
	return &CalendarHandler{calendarSvc: calendarSvc}
}

// ReviewerCalendar 审查人的待审分配日历
// GET /api/v1/reviewers/:id/calendar.ics
func (h *CalendarHandler) ReviewerCalendar(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	reviewerID := c.Param("id")
	if reviewerID == "me" {
		reviewerID = actor.UserID
	}

	body, err := h.calendarSvc.ReviewerCalendar(c.Request.Context(), actor, reviewerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="umrec-reviews.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}
