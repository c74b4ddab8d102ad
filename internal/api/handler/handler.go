package handler

import (
	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Submission   *SubmissionHandler
	Assignment   *AssignmentHandler
	Auth         *AuthHandler
	Calendar     *CalendarHandler
	Notification *NotificationHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(cfg *config.Config, svc *service.Service) *Handler {
	retries := cfg.Workflow.MaxRetries
	return &Handler{
		Submission:   NewSubmissionHandler(svc.Workflow, retries),
		Assignment:   NewAssignmentHandler(svc.Workflow, retries),
		Auth:         NewAuthHandler(svc.Auth),
		Calendar:     NewCalendarHandler(svc.Calendar),
		Notification: NewNotificationHandler(svc.Notification),
	}
}
