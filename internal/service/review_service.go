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
// 审查人推荐与分配
// ════════════════════════════════════════════════════════════

// assignmentIndex 一个提交全部分配记录的按审查人索引
type assignmentIndex struct {
	conflicted map[string]bool // 任意轮次声明过冲突
	active     map[string]bool // 当前轮次 pending/completed
	prior      map[string]bool // 以前轮次参与过
	pending    map[string]bool // 当前存在 pending 行（任意轮次）
}

func indexAssignments(all []model.ReviewAssignment, cycle int) assignmentIndex {
	idx := assignmentIndex{
		conflicted: make(map[string]bool),
		active:     make(map[string]bool),
		prior:      make(map[string]bool),
		pending:    make(map[string]bool),
	}
	for _, a := range all {
		switch {
		case a.Status == model.AssignmentConflict:
			idx.conflicted[a.ReviewerID] = true
		case a.Cycle == cycle && (a.Status == model.AssignmentPending || a.Status == model.AssignmentCompleted):
			idx.active[a.ReviewerID] = true
		case a.Cycle < cycle && (a.Status == model.AssignmentCompleted ||
			a.Status == model.AssignmentPending ||
			a.Status == model.AssignmentWithdrawn):
			idx.prior[a.ReviewerID] = true
		}
		if a.Status == model.AssignmentPending {
			idx.pending[a.ReviewerID] = true
		}
	}
	return idx
}

// candidatePool 由目录构建候选池并补充待审负载
func (s *workflowService) candidatePool(ctx context.Context, panel string, extraIDs []string) ([]Candidate, error) {
	reviewers, err := s.repo.Reviewer.ListAvailable(ctx, panel)
	if err != nil {
		s.logger.Error("查询审查人目录失败", zap.String("panel", panel), zap.Error(err))
		return nil, err
	}

	have := make(map[string]bool, len(reviewers))
	for _, r := range reviewers {
		have[r.ReviewerID] = true
	}
	var missing []string
	for _, id := range extraIDs {
		if !have[id] {
			missing = append(missing, id)
			have[id] = true
		}
	}
	if len(missing) > 0 {
		extra, err := s.repo.Reviewer.ListByIDs(ctx, missing)
		if err != nil {
			s.logger.Error("查询审查人目录失败", zap.Error(err))
			return nil, err
		}
		reviewers = append(reviewers, extra...)
	}

	ids := make([]string, len(reviewers))
	for i, r := range reviewers {
		ids[i] = r.ReviewerID
	}
	loads, err := s.repo.Assignment.CountPendingByReviewers(ctx, ids)
	if err != nil {
		s.logger.Error("统计审查人负载失败", zap.Error(err))
		return nil, err
	}

	pool := make([]Candidate, 0, len(reviewers))
	for _, r := range reviewers {
		pool = append(pool, Candidate{
			ReviewerID:    r.ReviewerID,
			Name:          r.Name,
			Available:     r.IsAvailable(),
			ExpertiseTags: r.ExpertiseTags,
			PendingLoad:   loads[r.ReviewerID],
		})
	}
	return pool, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// ── ProposeReviewers ──

func (s *workflowService) ProposeReviewers(ctx context.Context, actor Actor, id string, req *dto.ProposeReviewersRequest) (*dto.ReviewerProposalResponse, error) {
	if !actor.IsOffice() {
		return nil, ErrPermissionDenied
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	// 推荐只在可以分配时有意义
	if _, err := workflow.Next(workflow.State(sub.Status), workflow.EventAssignReviewers); err != nil {
		return nil, err
	}

	all, err := s.repo.Assignment.ListBySubmission(ctx, sub.SubmissionID)
	if err != nil {
		s.logger.Error("查询分配失败", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}
	idx := indexAssignments(all, sub.RevisionCount)

	panel := req.Panel
	if panel == "" {
		panel = sub.Panel
	}
	pool, err := s.candidatePool(ctx, panel, keys(idx.prior))
	if err != nil {
		return nil, err
	}

	k := req.K
	if k <= 0 {
		k = s.cfg.DefaultProposalSize
	}
	if k <= 0 {
		k = s.minReviewers()
	}
	proposal := SelectReviewers(SelectionInput{
		SubmitterID: sub.SubmitterID,
		TopicTags:   sub.TopicTags,
		Candidates:  pool,
		Conflicted:  idx.conflicted,
		Active:      idx.active,
		Prior:       idx.prior,
		K:           k,
	})

	resp := &dto.ReviewerProposalResponse{
		SubmissionID: sub.SubmissionID,
		Requested:    proposal.Requested,
		Reviewers:    make([]dto.ProposedReviewer, 0, len(proposal.Selected)),
		Insufficient: proposal.Insufficient,
	}
	for _, c := range proposal.Selected {
		resp.Reviewers = append(resp.Reviewers, dto.ProposedReviewer{
			ReviewerID:  c.ReviewerID,
			Name:        c.Name,
			Overlap:     c.Overlap,
			PendingLoad: c.PendingLoad,
			Continuity:  c.Continuity,
		})
	}
	if proposal.Insufficient {
		resp.Warning = ErrInsufficientReviewers.Error()
		s.logger.Warn("可选审查人不足",
			zap.String("submission_id", sub.SubmissionID),
			zap.Int("requested", k),
			zap.Int("selected", len(proposal.Selected)))
	}
	return resp, nil
}

// ── CommitAssignment ──

func (s *workflowService) CommitAssignment(ctx context.Context, actor Actor, id string, req *dto.CommitAssignmentRequest) (*dto.CommitAssignmentResponse, error) {
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
	idx := indexAssignments(all, sub.RevisionCount)

	var directory map[string]model.Reviewer
	if len(req.ReviewerIDs) > 0 {
		reviewers, err := s.repo.Reviewer.ListByIDs(ctx, req.ReviewerIDs)
		if err != nil {
			s.logger.Error("查询审查人目录失败", zap.Error(err))
			return nil, err
		}
		directory = make(map[string]model.Reviewer, len(reviewers))
		for _, r := range reviewers {
			directory[r.ReviewerID] = r
		}
	}

	minimum := s.minReviewers()
	validate := func() error {
		if len(req.ReviewerIDs) == 0 {
			return ErrEmptyReviewerSet
		}
		seen := make(map[string]bool, len(req.ReviewerIDs))
		for _, rid := range req.ReviewerIDs {
			if seen[rid] {
				return fmt.Errorf("%w: %s", ErrDuplicateReviewer, rid)
			}
			seen[rid] = true
		}
		for _, rid := range req.ReviewerIDs {
			r, ok := directory[rid]
			switch {
			case !ok:
				return fmt.Errorf("%w: %s", ErrReviewerNotFound, rid)
			case !r.IsAvailable():
				return fmt.Errorf("%w: %s", ErrReviewerUnavailable, rid)
			case rid == sub.SubmitterID:
				return ErrSelfReview
			case idx.conflicted[rid]:
				return fmt.Errorf("%w: %s", ErrReviewerConflicted, rid)
			}
		}
		if len(req.ReviewerIDs) < minimum && !req.AllowPartial {
			return fmt.Errorf("%w: 需要 %d 人，实际 %d 人", ErrBelowMinimumPanel, minimum, len(req.ReviewerIDs))
		}
		return nil
	}

	now := s.now()
	due := now.Add(s.cfg.ReviewWindow())
	cycle := sub.RevisionCount
	created := make([]model.ReviewAssignment, 0, len(req.ReviewerIDs))

	err = s.applyChange(ctx, actor, sub, change{
		event:  workflow.EventAssignReviewers,
		guards: []workflow.Guard{validate},
		ledger: func(ctx context.Context, repo *repository.Repository) error {
			for _, rid := range req.ReviewerIDs {
				// 已有 pending 行属于写入时冲突，不是守卫失败；唯一索引兜底
				if idx.pending[rid] {
					return fmt.Errorf("%w: %s", ErrDuplicateAssignment, rid)
				}
				a := &model.ReviewAssignment{
					SubmissionID: sub.SubmissionID,
					ReviewerID:   rid,
					Cycle:        cycle,
					Status:       model.AssignmentPending,
					AssignedAt:   now,
					DueAt:        due,
				}
				a.CreatedBy = &actor.UserID
				if err := repo.Assignment.Create(ctx, a); err != nil {
					return err
				}
				created = append(created, *a)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	for _, a := range created {
		s.notifier.ReviewerAssigned(ctx, notify.ReviewerAssignedPayload{
			AssignmentID:   a.AssignmentID,
			SubmissionID:   sub.SubmissionID,
			SubmissionCode: sub.Code,
			Title:          sub.Title,
			ReviewerID:     a.ReviewerID,
			DueAt:          a.DueAt,
		})
	}

	resp := &dto.CommitAssignmentResponse{
		Submission:  toSubmissionResponse(sub),
		Assignments: toAssignmentResponses(created, now),
	}
	if len(created) < minimum {
		resp.Warning = ErrBelowMinimumPanel.Error()
	}
	return resp, nil
}

// ── RecordReviewCompletion ──

func (s *workflowService) RecordReviewCompletion(ctx context.Context, actor Actor, id string, req *dto.RecordReviewRequest) (*dto.SubmissionResponse, error) {
	reviewerID := actor.UserID
	switch {
	case actor.Role == RoleReviewer:
		if req.ReviewerID != "" && req.ReviewerID != actor.UserID {
			return nil, ErrPermissionDenied
		}
	case actor.IsOffice():
		if req.ReviewerID == "" {
			return nil, ErrAssignmentNotFound
		}
		reviewerID = req.ReviewerID
	default:
		return nil, ErrPermissionDenied
	}
	if !model.ValidVerdict(req.Verdict) {
		return nil, fmt.Errorf("无效的审查意见: %q", req.Verdict)
	}

	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	// 只在审查中接受审查结果
	if workflow.State(sub.Status) != workflow.StateUnderReview {
		_, err := workflow.Next(workflow.State(sub.Status), workflow.EventCompleteReview)
		return nil, err
	}

	active, err := s.activeAssignments(ctx, sub)
	if err != nil {
		return nil, err
	}
	var target *model.ReviewAssignment
	for i := range active {
		if active[i].ReviewerID == reviewerID {
			target = &active[i]
			break
		}
	}
	if target == nil {
		return nil, ErrAssignmentNotFound
	}
	if !target.IsPending() {
		return nil, ErrAssignmentNotPending
	}

	now := s.now()
	// 以本次完成后的有效集合判断是否自动进入 review_complete
	after := make([]model.ReviewAssignment, len(active))
	copy(after, active)
	for i := range after {
		if after[i].AssignmentID == target.AssignmentID {
			after[i].Status = model.AssignmentCompleted
			after[i].Verdict = req.Verdict
		}
	}

	ch := change{
		ledger: func(ctx context.Context, repo *repository.Repository) error {
			return repo.Assignment.MarkCompleted(ctx, target.AssignmentID, req.Verdict, req.Comments, now)
		},
	}
	if allCompleted(after)() == nil && noRevisionVerdict(after)() == nil {
		ch.event = workflow.EventCompleteReview
	}
	if err := s.applyChange(ctx, actor, sub, ch); err != nil {
		return nil, err
	}

	s.logger.Info("审查结果已记录",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("reviewer_id", reviewerID),
		zap.String("verdict", req.Verdict))
	resp := toSubmissionResponse(sub)
	return &resp, nil
}

// ════════════════════════════════════════════════════════════
// 分配查询
// ════════════════════════════════════════════════════════════

func (s *workflowService) ListAssignmentsBySubmission(ctx context.Context, actor Actor, id string) ([]dto.AssignmentResponse, error) {
	if !actor.IsOffice() {
		return nil, ErrPermissionDenied
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.Assignment.ListBySubmission(ctx, sub.SubmissionID)
	if err != nil {
		s.logger.Error("查询分配失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
		return nil, err
	}
	return toAssignmentResponses(list, s.now()), nil
}

func (s *workflowService) ListAssignmentsByReviewer(ctx context.Context, actor Actor, reviewerID string, pendingOnly bool) ([]dto.AssignmentResponse, error) {
	if actor.UserID != reviewerID && !actor.IsOffice() {
		return nil, ErrPermissionDenied
	}
	if _, err := s.repo.Reviewer.GetByID(ctx, reviewerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewerNotFound
		}
		s.logger.Error("查询审查人失败", zap.String("reviewer_id", reviewerID), zap.Error(err))
		return nil, err
	}

	var statuses []string
	if pendingOnly {
		statuses = []string{model.AssignmentPending}
	}
	list, err := s.repo.Assignment.ListByReviewer(ctx, reviewerID, statuses)
	if err != nil {
		s.logger.Error("查询审查人分配失败", zap.String("reviewer_id", reviewerID), zap.Error(err))
		return nil, err
	}
	return toAssignmentResponses(list, s.now()), nil
}

func (s *workflowService) ListOverdueAssignments(ctx context.Context, actor Actor, req *dto.PaginationRequest) ([]dto.AssignmentResponse, int64, error) {
	if !actor.IsOffice() {
		return nil, 0, ErrPermissionDenied
	}
	now := s.now()
	list, total, err := s.repo.Assignment.ListOverdue(ctx, now, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询逾期分配失败", zap.Error(err))
		return nil, 0, err
	}
	return toAssignmentResponses(list, now), total, nil
}
