package notify

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/repository"
)

// Processor 消费通知任务并写入站内通知
type Processor struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
}

// NewProcessor 创建任务处理器
func NewProcessor(notifications repository.NotificationRepository, logger *zap.Logger) *Processor {
	return &Processor{notifications: notifications, logger: logger}
}

// Handler 注册站内通知任务（验证码邮件由外部邮件服务消费 mail 队列）
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReviewerAssigned, p.handleReviewerAssigned)
	mux.HandleFunc(TypeRevisionRequested, p.handleRevisionRequested)
	mux.HandleFunc(TypeDocumentsReleased, p.handleDocumentsReleased)
	return mux
}

func (p *Processor) handleReviewerAssigned(ctx context.Context, task *asynq.Task) error {
	var payload ReviewerAssignedPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	title := "新的伦理审查任务"
	if payload.Replacement {
		title = "新的伦理审查任务（替换审查人）"
	}
	return p.save(ctx, &model.Notification{
		UserID:    payload.ReviewerID,
		Type:      model.NotificationReviewerAssigned,
		Title:     title,
		Content:   fmt.Sprintf("您已被分配审查 %s《%s》，请于 %s (UTC) 前完成。", payload.SubmissionCode, payload.Title, payload.DueAt.UTC().Format("2006-01-02 15:04")),
		RelatedID: strPtr(payload.SubmissionID),
		DedupKey:  payload.DedupKey(),
	})
}

func (p *Processor) handleRevisionRequested(ctx context.Context, task *asynq.Task) error {
	var payload RevisionRequestedPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	content := fmt.Sprintf("您的提交 %s《%s》需要修订后重新提交。", payload.SubmissionCode, payload.Title)
	if payload.Reason != "" {
		content += "说明：" + payload.Reason
	}
	return p.save(ctx, &model.Notification{
		UserID:    payload.SubmitterID,
		Type:      model.NotificationRevisionRequested,
		Title:     "提交需要修订",
		Content:   content,
		RelatedID: strPtr(payload.SubmissionID),
		DedupKey:  payload.DedupKey(),
	})
}

func (p *Processor) handleDocumentsReleased(ctx context.Context, task *asynq.Task) error {
	var payload DocumentsReleasedPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	return p.save(ctx, &model.Notification{
		UserID:    payload.SubmitterID,
		Type:      model.NotificationDocumentsReleased,
		Title:     "审查结果已发布",
		Content:   fmt.Sprintf("您的提交 %s《%s》审查结果已发布，请登录查看。", payload.SubmissionCode, payload.Title),
		RelatedID: strPtr(payload.SubmissionID),
		DedupKey:  payload.DedupKey(),
	})
}

// save 幂等写入：任务重试不会产生重复通知
func (p *Processor) save(ctx context.Context, n *model.Notification) error {
	created, err := p.notifications.CreateIfAbsent(ctx, n)
	if err != nil {
		p.logger.Error("写入站内通知失败", zap.String("dedup_key", n.DedupKey), zap.Error(err))
		return err
	}
	if !created {
		p.logger.Debug("站内通知已存在，跳过", zap.String("dedup_key", n.DedupKey))
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
