package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/internal/model"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// AssignmentRepository 审查分配台账访问接口
//
// 状态写入均为条件更新（WHERE status = 'pending'），并发下第二个写入者
// 得到 ErrOptimisticLock 而不会覆盖第一个写入者的结果。
type AssignmentRepository interface {
	// Create 写入一条 pending 分配；同一 (submission, reviewer) 已有 pending 时返回 ErrDuplicateKey
	Create(ctx context.Context, a *model.ReviewAssignment) error
	GetByID(ctx context.Context, id string) (*model.ReviewAssignment, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]model.ReviewAssignment, error)
	ListBySubmissionCycle(ctx context.Context, submissionID string, cycle int) ([]model.ReviewAssignment, error)
	// ListByReviewer statuses 为空时返回全部状态
	ListByReviewer(ctx context.Context, reviewerID string, statuses []string) ([]model.ReviewAssignment, error)
	// ListOverdue 列出截止时间早于 now 且仍待审的分配
	ListOverdue(ctx context.Context, now time.Time, offset, limit int) ([]model.ReviewAssignment, int64, error)
	// CountPendingByReviewers 统计审查人当前待审数量（跨所有提交）
	CountPendingByReviewers(ctx context.Context, reviewerIDs []string) (map[string]int, error)

	MarkCompleted(ctx context.Context, id, verdict, comments string, at time.Time) error
	MarkConflict(ctx context.Context, id string, replacementID *string) error
	MarkReassigned(ctx context.Context, id string, replacementID string) error
	// WithdrawPending 将某轮次剩余 pending 行置为 withdrawn，返回影响行数
	WithdrawPending(ctx context.Context, submissionID string, cycle int) (int64, error)
}

type assignmentRepo struct {
	db *gorm.DB
}

func NewAssignmentRepo(db *gorm.DB) AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) Create(ctx context.Context, a *model.ReviewAssignment) error {
	if a.Status == "" {
		a.Status = model.AssignmentPending
	}
	return mapWriteError(r.db.WithContext(ctx).Create(a).Error)
}

func (r *assignmentRepo) GetByID(ctx context.Context, id string) (*model.ReviewAssignment, error) {
	var a model.ReviewAssignment
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) ListBySubmission(ctx context.Context, submissionID string) ([]model.ReviewAssignment, error) {
	var list []model.ReviewAssignment
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("cycle ASC, assigned_at ASC, reviewer_id ASC").
		Find(&list).Error
	return list, err
}

func (r *assignmentRepo) ListBySubmissionCycle(ctx context.Context, submissionID string, cycle int) ([]model.ReviewAssignment, error) {
	var list []model.ReviewAssignment
	err := r.db.WithContext(ctx).
		Where("submission_id = ? AND cycle = ?", submissionID, cycle).
		Order("assigned_at ASC, reviewer_id ASC").
		Find(&list).Error
	return list, err
}

func (r *assignmentRepo) ListByReviewer(ctx context.Context, reviewerID string, statuses []string) ([]model.ReviewAssignment, error) {
	var list []model.ReviewAssignment
	db := r.db.WithContext(ctx).Where("reviewer_id = ?", reviewerID)
	if len(statuses) > 0 {
		db = db.Where("status IN ?", statuses)
	}
	err := db.Order("due_at ASC, assignment_id ASC").Find(&list).Error
	return list, err
}

func (r *assignmentRepo) ListOverdue(ctx context.Context, now time.Time, offset, limit int) ([]model.ReviewAssignment, int64, error) {
	var list []model.ReviewAssignment
	var total int64

	db := r.db.WithContext(ctx).
		Model(&model.ReviewAssignment{}).
		Where("status = ? AND due_at < ?", model.AssignmentPending, now.UTC())

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("due_at ASC, assignment_id ASC").
		Offset(offset).Limit(limit).
		Find(&list).Error
	return list, total, err
}

type pendingCount struct {
	ReviewerID string
	Cnt        int
}

func (r *assignmentRepo) CountPendingByReviewers(ctx context.Context, reviewerIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(reviewerIDs))
	if len(reviewerIDs) == 0 {
		return counts, nil
	}
	var rows []pendingCount
	err := r.db.WithContext(ctx).
		Model(&model.ReviewAssignment{}).
		Select("reviewer_id, COUNT(*) AS cnt").
		Where("status = ? AND reviewer_id IN ?", model.AssignmentPending, reviewerIDs).
		Group("reviewer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ReviewerID] = row.Cnt
	}
	return counts, nil
}

// ── 条件状态写入 ──

func (r *assignmentRepo) updatePending(ctx context.Context, id string, values map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.ReviewAssignment{}).
		Where("assignment_id = ? AND status = ?", id, model.AssignmentPending).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *assignmentRepo) MarkCompleted(ctx context.Context, id, verdict, comments string, at time.Time) error {
	return r.updatePending(ctx, id, map[string]interface{}{
		"status":       model.AssignmentCompleted,
		"verdict":      verdict,
		"comments":     comments,
		"completed_at": at.UTC(),
	})
}

func (r *assignmentRepo) MarkConflict(ctx context.Context, id string, replacementID *string) error {
	return r.updatePending(ctx, id, map[string]interface{}{
		"status":         model.AssignmentConflict,
		"replacement_id": replacementID,
	})
}

func (r *assignmentRepo) MarkReassigned(ctx context.Context, id string, replacementID string) error {
	return r.updatePending(ctx, id, map[string]interface{}{
		"status":         model.AssignmentReassigned,
		"replacement_id": replacementID,
	})
}

func (r *assignmentRepo) WithdrawPending(ctx context.Context, submissionID string, cycle int) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ReviewAssignment{}).
		Where("submission_id = ? AND cycle = ? AND status = ?", submissionID, cycle, model.AssignmentPending).
		Update("status", model.AssignmentWithdrawn)
	return result.RowsAffected, result.Error
}
