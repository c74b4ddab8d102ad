package notify

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/maleckot/umrec-sub006/config"
)

// Producer 基于 asynq 的通知投递，满足 service.Notifier
type Producer struct {
	client   *asynq.Client
	maxRetry int
	logger   *zap.Logger
}

// NewProducer 创建通知生产者
func NewProducer(cfg *config.QueueConfig, logger *zap.Logger) *Producer {
	client := asynq.NewClient(RedisOpt(cfg))
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &Producer{client: client, maxRetry: maxRetry, logger: logger}
}

// RedisOpt 由队列配置生成 asynq 连接参数（生产端与 worker 共用）
func RedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Close 关闭底层连接
func (p *Producer) Close() error {
	return p.client.Close()
}

func (p *Producer) ReviewerAssigned(ctx context.Context, payload ReviewerAssignedPayload) {
	p.enqueue(ctx, TypeReviewerAssigned, payload, QueueDefault, asynq.TaskID(payload.DedupKey()))
}

func (p *Producer) RevisionRequested(ctx context.Context, payload RevisionRequestedPayload) {
	p.enqueue(ctx, TypeRevisionRequested, payload, QueueDefault, asynq.TaskID(payload.DedupKey()))
}

func (p *Producer) DocumentsReleased(ctx context.Context, payload DocumentsReleasedPayload) {
	p.enqueue(ctx, TypeDocumentsReleased, payload, QueueDefault, asynq.TaskID(payload.DedupKey()))
}

func (p *Producer) VerificationCodeIssued(ctx context.Context, payload VerificationCodePayload) {
	// 验证码过期后投递无意义
	p.enqueue(ctx, TypeVerificationCode, payload, QueueMail, asynq.Deadline(payload.ExpiresAt))
}

// enqueue 投递失败只记录日志，不向流程调用方返回错误
func (p *Producer) enqueue(ctx context.Context, taskType string, payload interface{}, queue string, opts ...asynq.Option) {
	opts = append(opts, asynq.Queue(queue), asynq.MaxRetry(p.maxRetry))
	task, err := newTask(taskType, payload, opts...)
	if err != nil {
		p.logger.Error("构建通知任务失败", zap.String("type", taskType), zap.Error(err))
		return
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			p.logger.Debug("通知任务已存在，跳过", zap.String("type", taskType))
			return
		}
		p.logger.Warn("通知任务入队失败", zap.String("type", taskType), zap.Error(err))
		return
	}
	p.logger.Debug("通知任务已入队",
		zap.String("type", taskType),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
}

// Nop 不投递任何通知（队列未启用或测试时使用）
type Nop struct{}

func (Nop) ReviewerAssigned(context.Context, ReviewerAssignedPayload)   {}
func (Nop) RevisionRequested(context.Context, RevisionRequestedPayload) {}
func (Nop) DocumentsReleased(context.Context, DocumentsReleasedPayload) {}
func (Nop) VerificationCodeIssued(context.Context, VerificationCodePayload) {}
