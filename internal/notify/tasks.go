// Package notify 以 asynq 任务的形式投递审查流程通知。
//
// 生产端（Producer）在流程事务提交后入队，失败只记日志，不影响流程结果；
// 消费端（Processor）运行在 cmd/worker 中，将任务落为站内通知。
// 验证码邮件任务投递到独立的 mail 队列，由外部邮件服务消费。
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	TypeReviewerAssigned  = "review:assigned"
	TypeRevisionRequested = "review:revision_requested"
	TypeDocumentsReleased = "review:released"
	TypeVerificationCode  = "auth:verification_code"
)

// 队列名
const (
	QueueDefault = "default"
	QueueMail    = "mail"
)

// ReviewerAssignedPayload 审查人被分配（含冲突替换与改派）
type ReviewerAssignedPayload struct {
	AssignmentID   string    `json:"assignment_id"`
	SubmissionID   string    `json:"submission_id"`
	SubmissionCode string    `json:"submission_code"`
	Title          string    `json:"title"`
	ReviewerID     string    `json:"reviewer_id"`
	DueAt          time.Time `json:"due_at"`
	Replacement    bool      `json:"replacement"`
}

// RevisionRequestedPayload 请求研究者修订
type RevisionRequestedPayload struct {
	SubmissionID   string `json:"submission_id"`
	SubmissionCode string `json:"submission_code"`
	Title          string `json:"title"`
	SubmitterID    string `json:"submitter_id"`
	RevisionCount  int    `json:"revision_count"`
	Reason         string `json:"reason,omitempty"`
}

// DocumentsReleasedPayload 审查结果已发布
type DocumentsReleasedPayload struct {
	SubmissionID   string    `json:"submission_id"`
	SubmissionCode string    `json:"submission_code"`
	Title          string    `json:"title"`
	SubmitterID    string    `json:"submitter_id"`
	ReleasedAt     time.Time `json:"released_at"`
}

// VerificationCodePayload 验证码邮件（明文验证码只出现在该任务中）
type VerificationCodePayload struct {
	Email     string    `json:"email"`
	Purpose   string    `json:"purpose"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DedupKey 站内通知去重键：同一分配只通知一次
func (p ReviewerAssignedPayload) DedupKey() string {
	return TypeReviewerAssigned + ":" + p.AssignmentID
}

// DedupKey 同一提交同一修订轮次只通知一次
func (p RevisionRequestedPayload) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", TypeRevisionRequested, p.SubmissionID, p.RevisionCount)
}

// DedupKey 同一提交只发布一次
func (p DocumentsReleasedPayload) DedupKey() string {
	return TypeDocumentsReleased + ":" + p.SubmissionID
}

func newTask(taskType string, payload interface{}, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	return asynq.NewTask(taskType, data, opts...), nil
}

func decode(task *asynq.Task, v interface{}) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		// 载荷损坏重试无意义
		return fmt.Errorf("解析任务载荷失败: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}
