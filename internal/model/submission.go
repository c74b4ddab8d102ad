package model

import "time"

// 提交状态（与 workflow.State 取值一致，落库为 varchar）
const (
	SubmissionStatusNew            = "new_submission"
	SubmissionStatusClassified     = "classified"
	SubmissionStatusUnderReview    = "under_review"
	SubmissionStatusUnderRevision  = "under_revision"
	SubmissionStatusReviewComplete = "review_complete"
	SubmissionStatusRejected       = "rejected"
)

// 审查类别
const (
	ReviewCategoryExempt    = "exempt"
	ReviewCategoryExpedited = "expedited"
	ReviewCategoryFullBoard = "full_board"
)

// ValidReviewCategory 判断审查类别是否合法
func ValidReviewCategory(c string) bool {
	switch c {
	case ReviewCategoryExempt, ReviewCategoryExpedited, ReviewCategoryFullBoard:
		return true
	}
	return false
}

// Submission 伦理审查提交 — 对应 submissions
// Status 只能经由 service 层的状态迁移函数写入
type Submission struct {
	SubmissionID   string      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"submission_id"`
	Code           string      `gorm:"type:varchar(32);not null;uniqueIndex"          json:"code"`
	Title          string      `gorm:"type:varchar(300);not null"                     json:"title"`
	SubmitterID    string      `gorm:"type:uuid;not null"                             json:"submitter_id"`
	Status         string      `gorm:"type:varchar(30);not null"                      json:"status"`
	RevisionCount  int         `gorm:"not null;default:0"                             json:"revision_count"`
	ReviewCategory string      `gorm:"type:varchar(20);not null;default:''"           json:"review_category"`
	Panel          string      `gorm:"type:varchar(50);not null;default:''"           json:"panel"`
	TopicTags      StringArray `gorm:"type:text[];not null;default:'{}'"              json:"topic_tags"`
	SubmittedAt    time.Time   `gorm:"not null"                                       json:"submitted_at"`
	ReleasedAt     *time.Time  `json:"released_at,omitempty"`
	VersionedModel

	// 关联
	Documents []SubmissionDocument `gorm:"foreignKey:SubmissionID" json:"documents,omitempty"`
}

// TableName 指定表名
func (Submission) TableName() string { return "submissions" }

// IsReleased 是否已发布审查结果
func (s *Submission) IsReleased() bool { return s.ReleasedAt != nil }

// SubmissionDocument 提交文件元数据 — 对应 submission_documents
// 文件本身由外部存储负责，这里只记录 file_key
type SubmissionDocument struct {
	DocumentID   string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"document_id"`
	SubmissionID string `gorm:"type:uuid;not null"                             json:"submission_id"`
	DocType      string `gorm:"type:varchar(50);not null"                      json:"doc_type"`
	FileName     string `gorm:"type:varchar(255);not null"                     json:"file_name"`
	FileKey      string `gorm:"type:varchar(500);not null"                     json:"file_key"`
	Revision     int    `gorm:"not null;default:0"                             json:"revision"` // 所属轮次：初次提交为 0，修订期间上传为 revision_count+1
	BaseModel
}

// TableName 指定表名
func (SubmissionDocument) TableName() string { return "submission_documents" }

// SubmissionStatusHistory 状态迁移审计 — 对应 submission_status_history
type SubmissionStatusHistory struct {
	HistoryID    string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"history_id"`
	SubmissionID string    `gorm:"type:uuid;not null"                             json:"submission_id"`
	FromStatus   string    `gorm:"type:varchar(30);not null"                      json:"from_status"`
	ToStatus     string    `gorm:"type:varchar(30);not null"                      json:"to_status"`
	Event        string    `gorm:"type:varchar(30);not null"                      json:"event"`
	ActorID      string    `gorm:"type:uuid;not null"                             json:"actor_id"`
	Reason       string    `gorm:"type:varchar(500);not null;default:''"          json:"reason,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

// TableName 指定表名
func (SubmissionStatusHistory) TableName() string { return "submission_status_history" }
