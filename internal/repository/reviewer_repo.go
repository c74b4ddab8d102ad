package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maleckot/umrec-sub006/internal/model"
)

// ReviewerRepository 审查人目录访问接口
type ReviewerRepository interface {
	// Upsert 按 reviewer_id 写入或覆盖目录信息（目录由外部系统同步）
	Upsert(ctx context.Context, reviewer *model.Reviewer) error
	GetByID(ctx context.Context, id string) (*model.Reviewer, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.Reviewer, error)
	// ListAvailable 列出可用审查人；panel 为空时不按小组过滤
	ListAvailable(ctx context.Context, panel string) ([]model.Reviewer, error)
}

type reviewerRepo struct {
	db *gorm.DB
}

func NewReviewerRepo(db *gorm.DB) ReviewerRepository {
	return &reviewerRepo{db: db}
}

func (r *reviewerRepo) Upsert(ctx context.Context, reviewer *model.Reviewer) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reviewer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "availability", "expertise_tags", "panel", "updated_at"}),
		}).
		Create(reviewer).Error
}

func (r *reviewerRepo) GetByID(ctx context.Context, id string) (*model.Reviewer, error) {
	var reviewer model.Reviewer
	err := r.db.WithContext(ctx).
		Where("reviewer_id = ?", id).
		First(&reviewer).Error
	if err != nil {
		return nil, err
	}
	return &reviewer, nil
}

func (r *reviewerRepo) ListByIDs(ctx context.Context, ids []string) ([]model.Reviewer, error) {
	var reviewers []model.Reviewer
	if len(ids) == 0 {
		return reviewers, nil
	}
	err := r.db.WithContext(ctx).
		Where("reviewer_id IN ?", ids).
		Order("reviewer_id ASC").
		Find(&reviewers).Error
	return reviewers, err
}

func (r *reviewerRepo) ListAvailable(ctx context.Context, panel string) ([]model.Reviewer, error) {
	var reviewers []model.Reviewer
	db := r.db.WithContext(ctx).Where("availability = ?", model.ReviewerAvailable)
	if panel != "" {
		db = db.Where("panel = ?", panel)
	}
	err := db.Order("reviewer_id ASC").Find(&reviewers).Error
	return reviewers, err
}
