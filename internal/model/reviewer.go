package model

// 审查人可用性
const (
	ReviewerAvailable   = "available"
	ReviewerUnavailable = "unavailable"
)

// Reviewer 审查人目录 — 对应 reviewers
// 待审数量（pending load）不落库，由分配台账实时统计
type Reviewer struct {
	ReviewerID    string      `gorm:"type:uuid;primaryKey"                              json:"reviewer_id"`
	Name          string      `gorm:"type:varchar(100);not null"                        json:"name"`
	Email         string      `gorm:"type:varchar(255);not null"                        json:"email"`
	Availability  string      `gorm:"type:varchar(20);not null;default:'available'"     json:"availability"`
	ExpertiseTags StringArray `gorm:"type:text[];not null;default:'{}'"                 json:"expertise_tags"`
	Panel         string      `gorm:"type:varchar(50);not null;default:''"              json:"panel"`
	BaseModel
}

// TableName 指定表名
func (Reviewer) TableName() string { return "reviewers" }

// IsAvailable 是否可接受新的分配
func (r *Reviewer) IsAvailable() bool { return r.Availability == ReviewerAvailable }
