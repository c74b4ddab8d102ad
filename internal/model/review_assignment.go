package model

import "time"

// 分配状态
const (
	AssignmentPending    = "pending"
	AssignmentCompleted  = "completed"
	AssignmentConflict   = "conflict"
	AssignmentReassigned = "reassigned"
	AssignmentWithdrawn  = "withdrawn" // 本轮以修订请求结束时仍未完成的分配
)

// 审查意见
const (
	VerdictApprove        = "approve"
	VerdictRevisionNeeded = "revision_needed"
)

// ValidVerdict 判断审查意见是否合法
func ValidVerdict(v string) bool {
	return v == VerdictApprove || v == VerdictRevisionNeeded
}

// ReviewAssignment 审查分配台账 — 对应 review_assignments
// 逻辑身份为 (submission, reviewer, cycle)；数据库保证同一 (submission, reviewer) 至多一条 pending
type ReviewAssignment struct {
	AssignmentID  string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"assignment_id"`
	SubmissionID  string     `gorm:"type:uuid;not null"                             json:"submission_id"`
	ReviewerID    string     `gorm:"type:uuid;not null"                             json:"reviewer_id"`
	Cycle         int        `gorm:"not null;default:0"                             json:"cycle"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"`
	AssignedAt    time.Time  `gorm:"not null"                                       json:"assigned_at"`
	DueAt         time.Time  `gorm:"not null"                                       json:"due_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Verdict       string     `gorm:"type:varchar(20);not null;default:''"           json:"verdict,omitempty"`
	Comments      string     `gorm:"type:text;not null;default:''"                  json:"comments,omitempty"`
	ReplacementID *string    `gorm:"type:uuid"                                      json:"replacement_id,omitempty"`
	BaseModel
}

// TableName 指定表名
func (ReviewAssignment) TableName() string { return "review_assignments" }

// IsPending 是否待审
func (a *ReviewAssignment) IsPending() bool { return a.Status == AssignmentPending }

// IsOverdue 读取时计算：仍待审且当前时间晚于截止时间
func (a *ReviewAssignment) IsOverdue(now time.Time) bool {
	return a.Status == AssignmentPending && now.UTC().After(a.DueAt.UTC())
}
