package service

import (
	"go.uber.org/zap"

	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Workflow     WorkflowService
	Auth         AuthService
	Calendar     CalendarService
	Notification NotificationService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	blacklist TokenBlacklist,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		Workflow:     NewWorkflowService(&cfg.Workflow, repo, notifier, clock, logger),
		Auth:         NewAuthService(&cfg.Verification, repo, blacklist, notifier, clock, logger),
		Calendar:     NewCalendarService(repo, cfg.Server.BaseURL, clock, logger),
		Notification: NewNotificationService(repo, logger),
	}
}
