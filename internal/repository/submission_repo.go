package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/internal/model"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// SubmissionRepository 提交数据访问接口
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	GetByCode(ctx context.Context, code string) (*model.Submission, error)
	List(ctx context.Context, filter SubmissionFilter, offset, limit int) ([]model.Submission, int64, error)
	// Update 以 version 做 CAS 写入全部可变字段；版本不匹配返回 ErrOptimisticLock
	Update(ctx context.Context, submission *model.Submission) error
}

// SubmissionFilter 提交列表过滤条件
type SubmissionFilter struct {
	Status      string
	SubmitterID string
}

// SubmissionDocumentRepository 提交文件元数据访问接口
type SubmissionDocumentRepository interface {
	Create(ctx context.Context, doc *model.SubmissionDocument) error
	ListBySubmission(ctx context.Context, submissionID string) ([]model.SubmissionDocument, error)
	ListBySubmissionAndRevision(ctx context.Context, submissionID string, revision int) ([]model.SubmissionDocument, error)
}

// StatusHistoryRepository 状态迁移审计访问接口
type StatusHistoryRepository interface {
	Create(ctx context.Context, h *model.SubmissionStatusHistory) error
	ListBySubmission(ctx context.Context, submissionID string) ([]model.SubmissionStatusHistory, error)
}

// ── Submission Repository 实现 ──

type submissionRepo struct {
	db *gorm.DB
}

func NewSubmissionRepo(db *gorm.DB) SubmissionRepository {
	return &submissionRepo{db: db}
}

func (r *submissionRepo) Create(ctx context.Context, submission *model.Submission) error {
	return mapWriteError(r.db.WithContext(ctx).Create(submission).Error)
}

func (r *submissionRepo) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	var submission model.Submission
	err := r.db.WithContext(ctx).
		Preload("Documents").
		Where("submission_id = ?", id).
		First(&submission).Error
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepo) GetByCode(ctx context.Context, code string) (*model.Submission, error) {
	var submission model.Submission
	err := r.db.WithContext(ctx).
		Preload("Documents").
		Where("code = ?", code).
		First(&submission).Error
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *submissionRepo) List(ctx context.Context, filter SubmissionFilter, offset, limit int) ([]model.Submission, int64, error) {
	var submissions []model.Submission
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Submission{})
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.SubmitterID != "" {
		db = db.Where("submitter_id = ?", filter.SubmitterID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("submitted_at DESC, submission_id ASC").
		Offset(offset).Limit(limit).
		Find(&submissions).Error
	return submissions, total, err
}

func (r *submissionRepo) Update(ctx context.Context, submission *model.Submission) error {
	oldVersion := submission.Version
	result := r.db.WithContext(ctx).
		Model(&model.Submission{}).
		Where("submission_id = ? AND version = ?", submission.SubmissionID, oldVersion).
		Updates(map[string]interface{}{
			"status":          submission.Status,
			"revision_count":  submission.RevisionCount,
			"review_category": submission.ReviewCategory,
			"panel":           submission.Panel,
			"topic_tags":      submission.TopicTags,
			"released_at":     submission.ReleasedAt,
			"updated_by":      submission.UpdatedBy,
			"version":         oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	submission.Version = oldVersion + 1
	return nil
}

// ── SubmissionDocument Repository 实现 ──

type submissionDocumentRepo struct {
	db *gorm.DB
}

func NewSubmissionDocumentRepo(db *gorm.DB) SubmissionDocumentRepository {
	return &submissionDocumentRepo{db: db}
}

func (r *submissionDocumentRepo) Create(ctx context.Context, doc *model.SubmissionDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *submissionDocumentRepo) ListBySubmission(ctx context.Context, submissionID string) ([]model.SubmissionDocument, error) {
	var docs []model.SubmissionDocument
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("revision ASC, created_at ASC").
		Find(&docs).Error
	return docs, err
}

func (r *submissionDocumentRepo) ListBySubmissionAndRevision(ctx context.Context, submissionID string, revision int) ([]model.SubmissionDocument, error) {
	var docs []model.SubmissionDocument
	err := r.db.WithContext(ctx).
		Where("submission_id = ? AND revision = ?", submissionID, revision).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

// ── StatusHistory Repository 实现 ──

type statusHistoryRepo struct {
	db *gorm.DB
}

func NewStatusHistoryRepo(db *gorm.DB) StatusHistoryRepository {
	return &statusHistoryRepo{db: db}
}

func (r *statusHistoryRepo) Create(ctx context.Context, h *model.SubmissionStatusHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *statusHistoryRepo) ListBySubmission(ctx context.Context, submissionID string) ([]model.SubmissionStatusHistory, error) {
	var list []model.SubmissionStatusHistory
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC, history_id ASC").
		Find(&list).Error
	return list, err
}
