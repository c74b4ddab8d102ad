package model

// 通知类型
const (
	NotificationReviewerAssigned  = "reviewer_assigned"
	NotificationRevisionRequested = "revision_requested"
	NotificationDocumentsReleased = "documents_released"
)

// Notification 站内通知 — 对应 notifications
// 由异步 worker 写入，DedupKey 保证任务重试时不重复写入
type Notification struct {
	NotificationID string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"notification_id"`
	UserID         string  `gorm:"type:uuid;not null"                             json:"user_id"`
	Type           string  `gorm:"type:varchar(50);not null"                      json:"type"`
	Title          string  `gorm:"type:varchar(200);not null"                     json:"title"`
	Content        string  `gorm:"type:text;not null"                             json:"content"`
	IsRead         bool    `gorm:"not null;default:false"                         json:"is_read"`
	RelatedID      *string `gorm:"type:uuid"                                      json:"related_id,omitempty"` // submission_id
	DedupKey       string  `gorm:"type:varchar(120);not null;uniqueIndex"         json:"-"`
	SoftDeleteModel
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }
