package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/repository"
)

var ErrNotificationNotFound = errors.New("通知不存在")

// NotificationService 站内通知查询
type NotificationService interface {
	List(ctx context.Context, actor Actor, req *dto.NotificationListRequest) ([]dto.NotificationResponse, int64, error)
	MarkRead(ctx context.Context, actor Actor, id string) error
}

type notificationService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewNotificationService 创建 NotificationService 实例
func NewNotificationService(repo *repository.Repository, logger *zap.Logger) NotificationService {
	return &notificationService{repo: repo, logger: logger}
}

func (s *notificationService) List(ctx context.Context, actor Actor, req *dto.NotificationListRequest) ([]dto.NotificationResponse, int64, error) {
	if actor.UserID == "" {
		return nil, 0, ErrPermissionDenied
	}
	list, total, err := s.repo.Notification.ListByUser(ctx, actor.UserID, req.UnreadOnly, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询通知失败", zap.String("user_id", actor.UserID), zap.Error(err))
		return nil, 0, err
	}

	result := make([]dto.NotificationResponse, 0, len(list))
	for _, n := range list {
		result = append(result, dto.NotificationResponse{
			ID:           n.NotificationID,
			Type:         n.Type,
			Title:        n.Title,
			Content:      n.Content,
			IsRead:       n.IsRead,
			SubmissionID: n.RelatedID,
			CreatedAt:    dto.FormatTime(n.CreatedAt),
		})
	}
	return result, total, nil
}

func (s *notificationService) MarkRead(ctx context.Context, actor Actor, id string) error {
	if actor.UserID == "" {
		return ErrPermissionDenied
	}
	if err := s.repo.Notification.MarkRead(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		s.logger.Error("标记通知已读失败", zap.String("id", id), zap.Error(err))
		return err
	}
	return nil
}
