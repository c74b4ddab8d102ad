package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/notify"
	"github.com/maleckot/umrec-sub006/internal/repository"
	"github.com/maleckot/umrec-sub006/internal/workflow"
)

// ════════════════════════════════════════════════════════════
// 利益冲突与改派
//
//   冲突声明：原分配 → conflict，按审查人所属小组寻找替换人，保留原截止日期
//   工作人员改派：原分配 → reassigned，替换人可指定或由推荐算法选出
//
// 两者都通过 applyChange 对提交版本做 CAS，与同一提交上的其它操作串行化。
// 冲突没有替换人且剩余分配均已完成时，同一次写入触发 complete_review。
// ════════════════════════════════════════════════════════════

// retirement 一次退出并替换的参数
type retirement struct {
	old *model.ReviewAssignment
	// replacementID 为空表示没有替换人
	replacementID string
	// event 非空时与退出在同一事务内迁移提交状态
	event workflow.Event
	mark          func(ctx context.Context, repo *repository.Repository, oldID string, newID *string) error
}

// retire 在一次原子写入中创建替换分配并退出原分配
func (s *workflowService) retire(ctx context.Context, actor Actor, sub *model.Submission, r retirement) (*model.ReviewAssignment, *model.ReviewAssignment, error) {
	now := s.now()
	retired := *r.old
	var replacement *model.ReviewAssignment

	err := s.applyChange(ctx, actor, sub, change{
		event: r.event,
		ledger: func(ctx context.Context, repo *repository.Repository) error {
			var newID *string
			if r.replacementID != "" {
				a := &model.ReviewAssignment{
					SubmissionID: sub.SubmissionID,
					ReviewerID:   r.replacementID,
					Cycle:        r.old.Cycle,
					Status:       model.AssignmentPending,
					AssignedAt:   now,
					DueAt:        r.old.DueAt,
				}
				a.CreatedBy = &actor.UserID
				if err := repo.Assignment.Create(ctx, a); err != nil {
					return err
				}
				replacement = a
				newID = &a.AssignmentID
			}
			return r.mark(ctx, repo, r.old.AssignmentID, newID)
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if replacement != nil {
		retired.ReplacementID = &replacement.AssignmentID
		s.notifier.ReviewerAssigned(ctx, notify.ReviewerAssignedPayload{
			AssignmentID:   replacement.AssignmentID,
			SubmissionID:   sub.SubmissionID,
			SubmissionCode: sub.Code,
			Title:          sub.Title,
			ReviewerID:     replacement.ReviewerID,
			DueAt:          replacement.DueAt,
			Replacement:    true,
		})
	}
	return &retired, replacement, nil
}

// currentRows 当前轮次中某审查人的 pending 行与最近一条已退出行（status 为 retiredStatus）
func currentRows(rows []model.ReviewAssignment, reviewerID, retiredStatus string) (pending, retired *model.ReviewAssignment, completed bool) {
	for i := range rows {
		a := &rows[i]
		if a.ReviewerID != reviewerID {
			continue
		}
		switch a.Status {
		case model.AssignmentPending:
			pending = a
		case model.AssignmentCompleted:
			completed = true
		case retiredStatus:
			retired = a
		}
	}
	return pending, retired, completed
}

// resolution 组装冲突/改派结果；activeCount 为处理后的有效分配数
func (s *workflowService) resolution(retired, replacement *model.ReviewAssignment, activeCount int) *dto.ConflictResolutionResponse {
	now := s.now()
	resp := &dto.ConflictResolutionResponse{
		Retired:      toAssignmentResponse(retired, now),
		Replaced:     replacement != nil,
		ActiveCount:  activeCount,
		BelowMinimum: activeCount < s.minReviewers(),
	}
	if replacement != nil {
		r := toAssignmentResponse(replacement, now)
		resp.Replacement = &r
	} else {
		resp.Warning = ErrNoReplacement.Error()
	}
	return resp
}

// previousResolution 重复调用时返回首次处理的结果
func (s *workflowService) previousResolution(ctx context.Context, sub *model.Submission, retired *model.ReviewAssignment) (*dto.ConflictResolutionResponse, error) {
	var replacement *model.ReviewAssignment
	if retired.ReplacementID != nil {
		r, err := s.repo.Assignment.GetByID(ctx, *retired.ReplacementID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("查询替换分配失败", zap.String("assignment_id", *retired.ReplacementID), zap.Error(err))
			return nil, err
		}
		replacement = r
	}
	active, err := s.activeAssignments(ctx, sub)
	if err != nil {
		return nil, err
	}
	resp := s.resolution(retired, replacement, len(active))
	if replacement == nil {
		return resp, ErrNoReplacement
	}
	return resp, nil
}

// pickReplacement 用推荐算法在审查人所属小组中选出一位替换人
func (s *workflowService) pickReplacement(ctx context.Context, sub *model.Submission, panel string, all []model.ReviewAssignment, exclude string) (string, error) {
	idx := indexAssignments(all, sub.RevisionCount)
	idx.active[exclude] = true

	pool, err := s.candidatePool(ctx, panel, nil)
	if err != nil {
		return "", err
	}
	proposal := SelectReviewers(SelectionInput{
		SubmitterID: sub.SubmitterID,
		TopicTags:   sub.TopicTags,
		Candidates:  pool,
		Conflicted:  idx.conflicted,
		Active:      idx.active,
		Prior:       idx.prior,
		K:           1,
	})
	if len(proposal.Selected) == 0 {
		return "", nil
	}
	return proposal.Selected[0].ReviewerID, nil
}

func (s *workflowService) reviewerPanel(ctx context.Context, reviewerID string) (string, error) {
	r, err := s.repo.Reviewer.GetByID(ctx, reviewerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 已从目录移除的审查人：在全部可用审查人中寻找
			return "", nil
		}
		s.logger.Error("查询审查人失败", zap.String("reviewer_id", reviewerID), zap.Error(err))
		return "", err
	}
	return r.Panel, nil
}

// ── DeclareConflict ──

func (s *workflowService) DeclareConflict(ctx context.Context, actor Actor, id, reviewerID string, req *dto.DeclareConflictRequest) (*dto.ConflictResolutionResponse, error) {
	if actor.UserID != reviewerID && !actor.IsOffice() {
		return nil, ErrPermissionDenied
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.Assignment.ListBySubmission(ctx, sub.SubmissionID)
	if err != nil {
		s.logger.Error("查询分配失败", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}
	var current []model.ReviewAssignment
	for _, a := range all {
		if a.Cycle == sub.RevisionCount {
			current = append(current, a)
		}
	}

	pending, declared, completed := currentRows(current, reviewerID, model.AssignmentConflict)
	if pending == nil {
		switch {
		case declared != nil:
			return s.previousResolution(ctx, sub, declared)
		case completed:
			return nil, ErrAssignmentNotPending
		default:
			return nil, ErrAssignmentNotFound
		}
	}

	panel, err := s.reviewerPanel(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	replacementID, err := s.pickReplacement(ctx, sub, panel, all, reviewerID)
	if err != nil {
		return nil, err
	}

	retired, replacement, err := s.retire(ctx, actor, sub, retirement{
		old:           pending,
		replacementID: replacementID,
		event:         completesOnRetire(sub, current, pending, replacementID),
		mark: func(ctx context.Context, repo *repository.Repository, oldID string, newID *string) error {
			return repo.Assignment.MarkConflict(ctx, oldID, newID)
		},
	})
	if err != nil {
		return nil, err
	}
	retired.Status = model.AssignmentConflict

	active, err := s.activeAssignments(ctx, sub)
	if err != nil {
		return nil, err
	}
	resp := s.resolution(retired, replacement, len(active))

	s.logger.Info("审查人声明利益冲突",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("reviewer_id", reviewerID),
		zap.String("replacement_id", replacementID),
		zap.String("reason", req.Reason),
		zap.Int("active", len(active)))

	if replacement == nil {
		s.logger.Warn("利益冲突后没有可替换的审查人",
			zap.String("submission_id", sub.SubmissionID),
			zap.Bool("below_minimum", resp.BelowMinimum))
		return resp, ErrNoReplacement
	}
	return resp, nil
}

// completesOnRetire 无替换人退出后，剩余有效分配若全部完成且无 revision_needed，
// 返回 complete_review，与 RecordReview 的自动完成条件一致
func completesOnRetire(sub *model.Submission, current []model.ReviewAssignment, old *model.ReviewAssignment, replacementID string) workflow.Event {
	if replacementID != "" || workflow.State(sub.Status) != workflow.StateUnderReview {
		return ""
	}
	var after []model.ReviewAssignment
	for _, a := range current {
		if a.AssignmentID == old.AssignmentID {
			continue
		}
		if a.Status == model.AssignmentPending || a.Status == model.AssignmentCompleted {
			after = append(after, a)
		}
	}
	if allCompleted(after)() != nil || noRevisionVerdict(after)() != nil {
		return ""
	}
	return workflow.EventCompleteReview
}

// ── ReassignReviewer ──

func (s *workflowService) ReassignReviewer(ctx context.Context, actor Actor, id, reviewerID string, req *dto.ReassignReviewerRequest) (*dto.ConflictResolutionResponse, error) {
	if !actor.IsOffice() {
		return nil, ErrPermissionDenied
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.Assignment.ListBySubmission(ctx, sub.SubmissionID)
	if err != nil {
		s.logger.Error("查询分配失败", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}
	var current []model.ReviewAssignment
	for _, a := range all {
		if a.Cycle == sub.RevisionCount {
			current = append(current, a)
		}
	}

	pending, reassigned, completed := currentRows(current, reviewerID, model.AssignmentReassigned)
	if pending == nil {
		switch {
		case reassigned != nil:
			return s.previousResolution(ctx, sub, reassigned)
		case completed:
			return nil, ErrAssignmentNotPending
		default:
			return nil, ErrAssignmentNotFound
		}
	}

	replacementID := req.ReplacementID
	if replacementID != "" {
		if err := s.validateReplacement(ctx, sub, all, reviewerID, replacementID); err != nil {
			return nil, err
		}
	} else {
		panel, err := s.reviewerPanel(ctx, reviewerID)
		if err != nil {
			return nil, err
		}
		if replacementID, err = s.pickReplacement(ctx, sub, panel, all, reviewerID); err != nil {
			return nil, err
		}
	}
	// 改派必须有替换人，否则保持原分配不变
	if replacementID == "" {
		return nil, ErrNoReplacement
	}

	retired, replacement, err := s.retire(ctx, actor, sub, retirement{
		old:           pending,
		replacementID: replacementID,
		mark: func(ctx context.Context, repo *repository.Repository, oldID string, newID *string) error {
			return repo.Assignment.MarkReassigned(ctx, oldID, *newID)
		},
	})
	if err != nil {
		return nil, err
	}
	retired.Status = model.AssignmentReassigned

	active, err := s.activeAssignments(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.logger.Info("审查人已改派",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("from", reviewerID),
		zap.String("to", replacementID),
		zap.String("actor", actor.UserID),
		zap.String("reason", req.Reason))
	return s.resolution(retired, replacement, len(active)), nil
}

// validateReplacement 校验工作人员指定的替换人
func (s *workflowService) validateReplacement(ctx context.Context, sub *model.Submission, all []model.ReviewAssignment, oldReviewerID, replacementID string) error {
	if replacementID == oldReviewerID {
		return fmt.Errorf("%w: %s", ErrDuplicateAssignment, replacementID)
	}
	r, err := s.repo.Reviewer.GetByID(ctx, replacementID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReviewerNotFound
		}
		s.logger.Error("查询审查人失败", zap.String("reviewer_id", replacementID), zap.Error(err))
		return err
	}

	idx := indexAssignments(all, sub.RevisionCount)
	switch {
	case !r.IsAvailable():
		return fmt.Errorf("%w: %s", ErrReviewerUnavailable, replacementID)
	case replacementID == sub.SubmitterID:
		return ErrSelfReview
	case idx.conflicted[replacementID]:
		return fmt.Errorf("%w: %s", ErrReviewerConflicted, replacementID)
	case idx.active[replacementID] || idx.pending[replacementID]:
		return fmt.Errorf("%w: %s", ErrDuplicateAssignment, replacementID)
	}
	return nil
}
