package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/notify"
	"github.com/maleckot/umrec-sub006/internal/repository"
	"github.com/maleckot/umrec-sub006/internal/workflow"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// WorkflowService 伦理审查流程引擎
//
// 每个操作都显式接收调用者身份 Actor；所有对 submissions.status 的写入
// 都经由 applyChange 完成。
type WorkflowService interface {
	CreateSubmission(ctx context.Context, actor Actor, req *dto.CreateSubmissionRequest) (*dto.SubmissionResponse, error)
	GetSubmission(ctx context.Context, actor Actor, id string) (*dto.SubmissionDetailResponse, error)
	ListSubmissions(ctx context.Context, actor Actor, req *dto.SubmissionListRequest) ([]dto.SubmissionResponse, int64, error)

	ClassifySubmission(ctx context.Context, actor Actor, id string, req *dto.ClassifySubmissionRequest) (*dto.SubmissionResponse, error)
	ProposeReviewers(ctx context.Context, actor Actor, id string, req *dto.ProposeReviewersRequest) (*dto.ReviewerProposalResponse, error)
	CommitAssignment(ctx context.Context, actor Actor, id string, req *dto.CommitAssignmentRequest) (*dto.CommitAssignmentResponse, error)
	RecordReviewCompletion(ctx context.Context, actor Actor, id string, req *dto.RecordReviewRequest) (*dto.SubmissionResponse, error)
	RequestRevision(ctx context.Context, actor Actor, id string, req *dto.RequestRevisionRequest) (*dto.SubmissionResponse, error)
	ResubmitSubmission(ctx context.Context, actor Actor, id string, req *dto.ResubmitRequest) (*dto.SubmissionResponse, error)
	ReleaseDocuments(ctx context.Context, actor Actor, id string) (*dto.SubmissionResponse, error)
	RejectSubmission(ctx context.Context, actor Actor, id string, req *dto.RejectSubmissionRequest) (*dto.SubmissionResponse, error)

	DeclareConflict(ctx context.Context, actor Actor, id, reviewerID string, req *dto.DeclareConflictRequest) (*dto.ConflictResolutionResponse, error)
	ReassignReviewer(ctx context.Context, actor Actor, id, reviewerID string, req *dto.ReassignReviewerRequest) (*dto.ConflictResolutionResponse, error)

	ListAssignmentsBySubmission(ctx context.Context, actor Actor, id string) ([]dto.AssignmentResponse, error)
	ListAssignmentsByReviewer(ctx context.Context, actor Actor, reviewerID string, pendingOnly bool) ([]dto.AssignmentResponse, error)
	ListOverdueAssignments(ctx context.Context, actor Actor, req *dto.PaginationRequest) ([]dto.AssignmentResponse, int64, error)
}

type workflowService struct {
	cfg      *config.WorkflowConfig
	repo     *repository.Repository
	notifier Notifier
	now      Clock
	logger   *zap.Logger
}

// NewWorkflowService 创建 WorkflowService 实例
func NewWorkflowService(cfg *config.WorkflowConfig, repo *repository.Repository, notifier Notifier, clock Clock, logger *zap.Logger) WorkflowService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &workflowService{cfg: cfg, repo: repo, notifier: notifier, now: clock, logger: logger}
}

func (s *workflowService) minReviewers() int {
	if s.cfg.MinReviewers < 1 {
		return 1
	}
	return s.cfg.MinReviewers
}

// ────────────────────── 原子写入 ──────────────────────

// change 一次提交级别的原子写入
type change struct {
	// event 为空表示只写台账、不迁移状态；此时仍对 submissions.version 做 CAS，
	// 使同一提交上的所有操作串行化
	event  workflow.Event
	guards []workflow.Guard
	// mutate 迁移时附带的字段变更（revision_count、released_at 等）
	mutate func(sub *model.Submission)
	// ledger 在 CAS 成功后、同一事务内执行的台账写入
	ledger func(ctx context.Context, repo *repository.Repository) error
	reason string
}

// applyChange 是 submissions.status 的唯一写入点。
//
// 顺序：状态机校验与守卫 → 开启事务 → CAS 写提交（version+1）→ 台账写入
// → 状态历史 → 提交事务。CAS 放在最前，并发的败者不会写入任何台账记录。
func (s *workflowService) applyChange(ctx context.Context, actor Actor, sub *model.Submission, ch change) error {
	from := workflow.State(sub.Status)
	to := from
	if ch.event != "" {
		next, err := workflow.Fire(from, ch.event, ch.guards...)
		if err != nil {
			return err
		}
		to = next
	} else {
		for _, g := range ch.guards {
			if g == nil {
				continue
			}
			if err := g(); err != nil {
				return err
			}
		}
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.Error("开启事务失败", zap.Error(err))
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if tx != nil {
				tx.Rollback()
			}
			panic(r)
		}
	}()
	rollback := func() {
		if tx != nil {
			tx.Rollback()
		}
	}

	txRepo := s.repo.WithTx(tx)

	// 1. CAS：失败时调用方的 sub 保持不变
	updated := *sub
	updated.Status = string(to)
	if ch.mutate != nil {
		ch.mutate(&updated)
	}
	updated.UpdatedBy = &actor.UserID
	if err := txRepo.Submission.Update(ctx, &updated); err != nil {
		rollback()
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Info("提交版本冲突",
				zap.String("submission_id", sub.SubmissionID),
				zap.Int("version", sub.Version),
				zap.String("event", string(ch.event)))
			return ErrConcurrentModification
		}
		s.logger.Error("写入提交失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
		return err
	}

	// 2. 台账
	if ch.ledger != nil {
		if err := ch.ledger(ctx, txRepo); err != nil {
			rollback()
			mapped := mapLockError(err)
			if mapped == err {
				s.logger.Error("写入分配台账失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
			}
			return mapped
		}
	}

	// 3. 状态历史
	if ch.event != "" {
		if err := txRepo.StatusHistory.Create(ctx, &model.SubmissionStatusHistory{
			SubmissionID: sub.SubmissionID,
			FromStatus:   string(from),
			ToStatus:     string(to),
			Event:        string(ch.event),
			ActorID:      actor.UserID,
			Reason:       ch.reason,
			CreatedAt:    s.now(),
		}); err != nil {
			rollback()
			s.logger.Error("写入状态历史失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
			return err
		}
	}

	if tx != nil {
		if err := tx.Commit().Error; err != nil {
			s.logger.Error("提交事务失败", zap.Error(err))
			return err
		}
	}

	*sub = updated
	if from != to {
		s.logger.Info("提交状态迁移",
			zap.String("submission_id", sub.SubmissionID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("event", string(ch.event)),
			zap.String("actor", actor.UserID))
	}
	return nil
}

// ────────────────────── 读取辅助 ──────────────────────

// loadSubmission 按存储主键或人类可读编号（UMREC-2026-4F9A1C）读取提交
func (s *workflowService) loadSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var (
		sub *model.Submission
		err error
	)
	if strings.HasPrefix(id, submissionCodePrefix) {
		sub, err = s.repo.Submission.GetByCode(ctx, id)
	} else {
		sub, err = s.repo.Submission.GetByID(ctx, id)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		s.logger.Error("查询提交失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return sub, nil
}

// activeAssignments 当前轮次的有效分配（pending 与 completed）
func (s *workflowService) activeAssignments(ctx context.Context, sub *model.Submission) ([]model.ReviewAssignment, error) {
	rows, err := s.repo.Assignment.ListBySubmissionCycle(ctx, sub.SubmissionID, sub.RevisionCount)
	if err != nil {
		s.logger.Error("查询分配失败", zap.String("submission_id", sub.SubmissionID), zap.Error(err))
		return nil, err
	}
	active := rows[:0:0]
	for _, a := range rows {
		if a.Status == model.AssignmentPending || a.Status == model.AssignmentCompleted {
			active = append(active, a)
		}
	}
	return active, nil
}

// allCompleted 全部有效分配已完成（且至少有一条）
func allCompleted(active []model.ReviewAssignment) workflow.Guard {
	return func() error {
		if len(active) == 0 {
			return ErrNoActiveAssignments
		}
		for _, a := range active {
			if a.Status != model.AssignmentCompleted {
				return ErrReviewsOutstanding
			}
		}
		return nil
	}
}

func noRevisionVerdict(active []model.ReviewAssignment) workflow.Guard {
	return func() error {
		for _, a := range active {
			if a.Status == model.AssignmentCompleted && a.Verdict == model.VerdictRevisionNeeded {
				return ErrRevisionVerdictPending
			}
		}
		return nil
	}
}

func cleanTags(tags []string) model.StringArray {
	out := model.StringArray{}
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ────────────────────── CreateSubmission ──────────────────────

// submissionCodeAttempts 生成人类可读编号时的最大尝试次数
const submissionCodeAttempts = 3

const submissionCodePrefix = "UMREC-"

func newSubmissionCode(year int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d-%s", submissionCodePrefix, year, strings.ToUpper(raw[:6]))
}

func (s *workflowService) CreateSubmission(ctx context.Context, actor Actor, req *dto.CreateSubmissionRequest) (*dto.SubmissionResponse, error) {
	if err := actor.require(RoleResearcher); err != nil {
		return nil, err
	}

	now := s.now()
	var sub *model.Submission
	var err error
	for i := 0; i < submissionCodeAttempts; i++ {
		sub, err = s.createSubmissionOnce(ctx, actor, req, newSubmissionCode(now.Year()))
		if !errors.Is(err, pkgerrors.ErrDuplicateKey) {
			break
		}
		s.logger.Warn("提交编号冲突，重新生成", zap.Int("attempt", i+1))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("收到新提交",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("code", sub.Code),
		zap.String("submitter", actor.UserID))
	resp := toSubmissionResponse(sub)
	return &resp, nil
}

// createSubmissionOnce 写入初始状态 new_submission（创建不是状态迁移，不经过 applyChange）
func (s *workflowService) createSubmissionOnce(ctx context.Context, actor Actor, req *dto.CreateSubmissionRequest, code string) (*model.Submission, error) {
	now := s.now()
	sub := &model.Submission{
		Code:        code,
		Title:       strings.TrimSpace(req.Title),
		SubmitterID: actor.UserID,
		Status:      string(workflow.StateNewSubmission),
		TopicTags:   cleanTags(req.TopicTags),
		SubmittedAt: now,
	}
	sub.Version = 1
	sub.CreatedBy = &actor.UserID
	sub.UpdatedBy = &actor.UserID

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.Error("开启事务失败", zap.Error(err))
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			if tx != nil {
				tx.Rollback()
			}
			panic(r)
		}
	}()
	txRepo := s.repo.WithTx(tx)

	fail := func(msg string, err error) (*model.Submission, error) {
		if tx != nil {
			tx.Rollback()
		}
		if !errors.Is(err, pkgerrors.ErrDuplicateKey) {
			s.logger.Error(msg, zap.Error(err))
		}
		return nil, err
	}

	if err := txRepo.Submission.Create(ctx, sub); err != nil {
		return fail("创建提交失败", err)
	}
	for _, d := range req.Documents {
		doc := &model.SubmissionDocument{
			SubmissionID: sub.SubmissionID,
			DocType:      d.DocType,
			FileName:     d.FileName,
			FileKey:      d.FileKey,
			Revision:     0,
		}
		doc.CreatedBy = &actor.UserID
		if err := txRepo.SubmissionDocument.Create(ctx, doc); err != nil {
			return fail("保存提交文件失败", err)
		}
		sub.Documents = append(sub.Documents, *doc)
	}
	if err := txRepo.StatusHistory.Create(ctx, &model.SubmissionStatusHistory{
		SubmissionID: sub.SubmissionID,
		FromStatus:   "",
		ToStatus:     sub.Status,
		Event:        "intake",
		ActorID:      actor.UserID,
		CreatedAt:    now,
	}); err != nil {
		return fail("写入状态历史失败", err)
	}

	if tx != nil {
		if err := tx.Commit().Error; err != nil {
			s.logger.Error("提交事务失败", zap.Error(err))
			return nil, err
		}
	}
	return sub, nil
}

// ────────────────────── GetSubmission / ListSubmissions ──────────────────────

func (s *workflowService) GetSubmission(ctx context.Context, actor Actor, id string) (*dto.SubmissionDetailResponse, error) {
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := s.repo.Assignment.ListBySubmission(ctx, sub.SubmissionID)
	if err != nil {
		s.logger.Error("查询分配失败", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}

	// 可见性：办公室人员全部可见；研究者仅本人；审查人仅限仍在审查组中的提交
	switch {
	case actor.IsOffice():
	case actor.Role == RoleResearcher && actor.UserID == sub.SubmitterID:
	case actor.Role == RoleReviewer && reviewsSubmission(all, actor.UserID):
	default:
		return nil, ErrPermissionDenied
	}

	history, err := s.repo.StatusHistory.ListBySubmission(ctx, sub.SubmissionID)
	if err != nil {
		s.logger.Error("查询状态历史失败", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}

	now := s.now()
	active := make([]dto.AssignmentResponse, 0)
	for i := range all {
		a := &all[i]
		if a.Cycle != sub.RevisionCount {
			continue
		}
		if a.Status != model.AssignmentPending && a.Status != model.AssignmentCompleted {
			continue
		}
		// 研究者看不到审查人身份与意见
		if actor.Role == RoleResearcher {
			continue
		}
		active = append(active, toAssignmentResponse(a, now))
	}

	return &dto.SubmissionDetailResponse{
		SubmissionResponse: toSubmissionResponse(sub),
		Documents:          toDocumentResponses(sub.Documents),
		ActiveAssignments:  active,
		History:            toHistoryResponses(history),
	}, nil
}

// reviewsSubmission 审查人持有 pending 或 completed 分配；声明冲突或被改派后不再可见
func reviewsSubmission(list []model.ReviewAssignment, reviewerID string) bool {
	for _, a := range list {
		if a.ReviewerID != reviewerID {
			continue
		}
		if a.Status == model.AssignmentPending || a.Status == model.AssignmentCompleted {
			return true
		}
	}
	return false
}

func (s *workflowService) ListSubmissions(ctx context.Context, actor Actor, req *dto.SubmissionListRequest) ([]dto.SubmissionResponse, int64, error) {
	filter := repository.SubmissionFilter{Status: req.Status}
	switch {
	case actor.IsOffice():
	case actor.Role == RoleResearcher:
		filter.SubmitterID = actor.UserID
	default:
		return nil, 0, ErrPermissionDenied
	}

	list, total, err := s.repo.Submission.List(ctx, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询提交列表失败", zap.Error(err))
		return nil, 0, err
	}
	result := make([]dto.SubmissionResponse, 0, len(list))
	for i := range list {
		result = append(result, toSubmissionResponse(&list[i]))
	}
	return result, total, nil
}

// ────────────────────── Classify ──────────────────────

func (s *workflowService) ClassifySubmission(ctx context.Context, actor Actor, id string, req *dto.ClassifySubmissionRequest) (*dto.SubmissionResponse, error) {
	if err := actor.require(RoleStaff, RoleSecretariat); err != nil {
		return nil, err
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	tags := cleanTags(req.TopicTags)
	err = s.applyChange(ctx, actor, sub, change{
		event: workflow.EventClassify,
		guards: []workflow.Guard{func() error {
			if !model.ValidReviewCategory(req.ReviewCategory) || len(tags) == 0 {
				return ErrIncompleteClassification
			}
			return nil
		}},
		mutate: func(sub *model.Submission) {
			sub.ReviewCategory = req.ReviewCategory
			sub.TopicTags = tags
			sub.Panel = strings.TrimSpace(req.Panel)
		},
	})
	if err != nil {
		return nil, err
	}
	resp := toSubmissionResponse(sub)
	return &resp, nil
}

// ────────────────────── RequestRevision ──────────────────────

func (s *workflowService) RequestRevision(ctx context.Context, actor Actor, id string, req *dto.RequestRevisionRequest) (*dto.SubmissionResponse, error) {
	if err := actor.require(RoleStaff, RoleSecretariat); err != nil {
		return nil, err
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.activeAssignments(ctx, sub)
	if err != nil {
		return nil, err
	}

	cycle := sub.RevisionCount
	err = s.applyChange(ctx, actor, sub, change{
		event: workflow.EventRequestRevision,
		guards: []workflow.Guard{func() error {
			for _, a := range active {
				if a.Status == model.AssignmentCompleted && a.Verdict == model.VerdictRevisionNeeded {
					return nil
				}
			}
			return ErrNoRevisionVerdict
		}},
		// 本轮结束：剩余 pending 行退出有效集合
		ledger: func(ctx context.Context, repo *repository.Repository) error {
			_, err := repo.Assignment.WithdrawPending(ctx, sub.SubmissionID, cycle)
			return err
		},
		reason: req.Reason,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.RevisionRequested(ctx, notify.RevisionRequestedPayload{
		SubmissionID:   sub.SubmissionID,
		SubmissionCode: sub.Code,
		Title:          sub.Title,
		SubmitterID:    sub.SubmitterID,
		RevisionCount:  sub.RevisionCount,
		Reason:         req.Reason,
	})
	resp := toSubmissionResponse(sub)
	return &resp, nil
}

// ────────────────────── Resubmit ──────────────────────

func (s *workflowService) ResubmitSubmission(ctx context.Context, actor Actor, id string, req *dto.ResubmitRequest) (*dto.SubmissionResponse, error) {
	if err := actor.require(RoleResearcher); err != nil {
		return nil, err
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.SubmitterID != actor.UserID {
		return nil, ErrPermissionDenied
	}

	nextRevision := sub.RevisionCount + 1
	existing, err := s.repo.SubmissionDocument.ListBySubmissionAndRevision(ctx, sub.SubmissionID, nextRevision)
	if err != nil {
		s.logger.Error("查询修订文件失败", zap.String("submission_id", id), zap.Error(err))
		return nil, err
	}
	present := make(map[string]bool)
	for _, d := range existing {
		present[d.DocType] = true
	}
	for _, d := range req.Documents {
		present[d.DocType] = true
	}

	var tags model.StringArray
	if len(req.TopicTags) > 0 {
		tags = cleanTags(req.TopicTags)
	}

	err = s.applyChange(ctx, actor, sub, change{
		event: workflow.EventResubmit,
		guards: []workflow.Guard{func() error {
			var missing []string
			for _, required := range s.cfg.RequiredRevisionDocuments {
				if !present[required] {
					missing = append(missing, required)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: %s", ErrMissingRevisedDocuments, strings.Join(missing, ", "))
			}
			return nil
		}},
		mutate: func(sub *model.Submission) {
			sub.RevisionCount = nextRevision
			if len(tags) > 0 {
				sub.TopicTags = tags
			}
		},
		ledger: func(ctx context.Context, repo *repository.Repository) error {
			for _, d := range req.Documents {
				doc := &model.SubmissionDocument{
					SubmissionID: sub.SubmissionID,
					DocType:      d.DocType,
					FileName:     d.FileName,
					FileKey:      d.FileKey,
					Revision:     nextRevision,
				}
				doc.CreatedBy = &actor.UserID
				if err := repo.SubmissionDocument.Create(ctx, doc); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	resp := toSubmissionResponse(sub)
	return &resp, nil
}

// ────────────────────── Release ──────────────────────

func (s *workflowService) ReleaseDocuments(ctx context.Context, actor Actor, id string) (*dto.SubmissionResponse, error) {
	if err := actor.require(RoleStaff, RoleSecretariat); err != nil {
		return nil, err
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	var guards []workflow.Guard
	switch workflow.State(sub.Status) {
	case workflow.StateUnderReview:
		active, err := s.activeAssignments(ctx, sub)
		if err != nil {
			return nil, err
		}
		guards = append(guards, allCompleted(active), noRevisionVerdict(active))
	case workflow.StateReviewComplete:
		if sub.IsReleased() {
			return nil, workflow.Exhausted(workflow.StateReviewComplete, workflow.EventRelease, ErrAlreadyReleased)
		}
	}

	releasedAt := s.now()
	err = s.applyChange(ctx, actor, sub, change{
		event:  workflow.EventRelease,
		guards: guards,
		mutate: func(sub *model.Submission) {
			sub.ReleasedAt = &releasedAt
		},
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DocumentsReleased(ctx, notify.DocumentsReleasedPayload{
		SubmissionID:   sub.SubmissionID,
		SubmissionCode: sub.Code,
		Title:          sub.Title,
		SubmitterID:    sub.SubmitterID,
		ReleasedAt:     releasedAt,
	})
	resp := toSubmissionResponse(sub)
	return &resp, nil
}

// ────────────────────── Reject ──────────────────────

func (s *workflowService) RejectSubmission(ctx context.Context, actor Actor, id string, req *dto.RejectSubmissionRequest) (*dto.SubmissionResponse, error) {
	if err := actor.require(RoleAdmin); err != nil {
		return nil, err
	}
	sub, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}

	cycle := sub.RevisionCount
	err = s.applyChange(ctx, actor, sub, change{
		event: workflow.EventReject,
		ledger: func(ctx context.Context, repo *repository.Repository) error {
			_, err := repo.Assignment.WithdrawPending(ctx, sub.SubmissionID, cycle)
			return err
		},
		reason: req.Reason,
	})
	if err != nil {
		return nil, err
	}
	resp := toSubmissionResponse(sub)
	return &resp, nil
}
