package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/workflow"
)

// ── 测试辅助 ──

var (
	researcher = Actor{UserID: "researcher-1", Role: RoleResearcher}
	staff      = Actor{UserID: "staff-1", Role: RoleStaff}
	secretary  = Actor{UserID: "secretary-1", Role: RoleSecretariat}
	admin      = Actor{UserID: "admin-1", Role: RoleAdmin}
)

func reviewer(id string) Actor { return Actor{UserID: id, Role: RoleReviewer} }

type workflowFixture struct {
	svc      WorkflowService
	store    *memStore
	notifier *recordingNotifier
	clock    *fakeClock
	ctx      context.Context
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	store := newMemStore()
	notifier := &recordingNotifier{}
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cfg := &config.WorkflowConfig{
		ReviewWindowDays:          14,
		MinReviewers:              2,
		DefaultProposalSize:       2,
		MaxRetries:                3,
		RequiredRevisionDocuments: []string{"revised_protocol"},
	}
	svc := NewWorkflowService(cfg, store.toRepository(), notifier, clock.Now, zap.NewNop())
	return &workflowFixture{svc: svc, store: store, notifier: notifier, clock: clock, ctx: context.Background()}
}

// seedReviewers 5 位可用审查人，标签与 {ethics, survey} 有不同程度重合
//
//	rev-a: ethics,survey 负载 0
//	rev-b: ethics,survey 负载 1
//	rev-c: ethics        负载 0
//	rev-d: survey        负载 0
//	rev-e: ethics,survey 负载 2
func (f *workflowFixture) seedReviewers() {
	tags := map[string]model.StringArray{
		"rev-a": {"ethics", "survey"},
		"rev-b": {"ethics", "survey"},
		"rev-c": {"ethics"},
		"rev-d": {"survey"},
		"rev-e": {"Ethics", "survey"},
	}
	for id, t := range tags {
		f.store.putReviewer(model.Reviewer{ReviewerID: id, Name: strings.ToUpper(id), ExpertiseTags: t})
	}
	due := f.clock.Now().Add(7 * 24 * time.Hour)
	for _, id := range []string{"rev-b", "rev-e", "rev-e"} {
		f.store.putAssignment(model.ReviewAssignment{
			SubmissionID: "sub-other", ReviewerID: id, Status: model.AssignmentPending,
			AssignedAt: f.clock.Now(), DueAt: due,
		})
	}
}

// seedClassified 一个已分类、等待分配的提交 sub-1
func (f *workflowFixture) seedClassified() {
	f.store.putSubmission(model.Submission{
		SubmissionID:   "sub-1",
		Code:           "UMREC-2026-AAAAAA",
		Title:          "校园问卷研究",
		SubmitterID:    researcher.UserID,
		Status:         model.SubmissionStatusClassified,
		ReviewCategory: model.ReviewCategoryFullBoard,
		TopicTags:      model.StringArray{"ethics", "survey"},
		SubmittedAt:    f.clock.Now().Add(-48 * time.Hour),
	})
}

func (f *workflowFixture) commit(t *testing.T, ids ...string) *dto.CommitAssignmentResponse {
	t.Helper()
	resp, err := f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{ReviewerIDs: ids})
	if err != nil {
		t.Fatalf("CommitAssignment 应成功: %v", err)
	}
	return resp
}

func (f *workflowFixture) review(t *testing.T, reviewerID, verdict string) *dto.SubmissionResponse {
	t.Helper()
	resp, err := f.svc.RecordReviewCompletion(f.ctx, reviewer(reviewerID), "sub-1", &dto.RecordReviewRequest{Verdict: verdict})
	if err != nil {
		t.Fatalf("%s 记录审查结果应成功: %v", reviewerID, err)
	}
	return resp
}

func (f *workflowFixture) pending() []model.ReviewAssignment {
	var out []model.ReviewAssignment
	for _, a := range f.store.assignmentsOf("sub-1") {
		if a.Status == model.AssignmentPending {
			out = append(out, a)
		}
	}
	return out
}

func assertInvalidTransition(t *testing.T, err error, cause error) {
	t.Helper()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("期望 InvalidTransition，实际: %v", err)
	}
	if cause != nil && !errors.Is(err, cause) {
		t.Fatalf("期望原因 %v，实际: %v", cause, err)
	}
}

// ════════════════════════════════════════════════════════════
// 提交与分类
// ════════════════════════════════════════════════════════════

func TestCreateSubmission(t *testing.T) {
	f := newWorkflowFixture(t)

	resp, err := f.svc.CreateSubmission(f.ctx, researcher, &dto.CreateSubmissionRequest{
		Title:     "  社区访谈研究 ",
		TopicTags: []string{"Interview", "interview", " community "},
		Documents: []dto.DocumentInput{{DocType: "protocol", FileName: "p.pdf", FileKey: "k/p.pdf"}},
	})
	if err != nil {
		t.Fatalf("CreateSubmission 应成功: %v", err)
	}
	if resp.Status != string(workflow.StateNewSubmission) {
		t.Errorf("初始状态应为 new_submission，实际 %s", resp.Status)
	}
	if !strings.HasPrefix(resp.Code, "UMREC-2026-") || len(resp.Code) != len("UMREC-2026-")+6 {
		t.Errorf("编号格式不符: %s", resp.Code)
	}
	if resp.Title != "社区访谈研究" {
		t.Errorf("标题应去除首尾空白，实际 %q", resp.Title)
	}
	if len(resp.TopicTags) != 2 {
		t.Errorf("标签应去重并规范化，实际 %v", resp.TopicTags)
	}
	if resp.Version != 1 || resp.RevisionCount != 0 {
		t.Errorf("期望 version=1 revision_count=0，实际 %d %d", resp.Version, resp.RevisionCount)
	}

	detail, err := f.svc.GetSubmission(f.ctx, researcher, resp.ID)
	if err != nil {
		t.Fatalf("提交者应能查看: %v", err)
	}
	if len(detail.Documents) != 1 || detail.Documents[0].Revision != 0 {
		t.Errorf("文件应记为第 0 轮，实际 %+v", detail.Documents)
	}
	if len(detail.History) != 1 || detail.History[0].Event != "intake" {
		t.Errorf("应记录一条 intake 历史，实际 %+v", detail.History)
	}

	if _, err := f.svc.CreateSubmission(f.ctx, staff, &dto.CreateSubmissionRequest{Title: "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("工作人员不能代为提交，实际: %v", err)
	}
}

func TestClassifySubmission(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putSubmission(model.Submission{
		SubmissionID: "sub-1", Code: "UMREC-2026-BBBBBB", SubmitterID: researcher.UserID,
		Status: model.SubmissionStatusNew, SubmittedAt: f.clock.Now(),
	})

	t.Run("缺少标签", func(t *testing.T) {
		_, err := f.svc.ClassifySubmission(f.ctx, secretary, "sub-1", &dto.ClassifySubmissionRequest{
			ReviewCategory: model.ReviewCategoryExempt, TopicTags: []string{"  "},
		})
		assertInvalidTransition(t, err, ErrIncompleteClassification)
	})

	t.Run("研究者无权分类", func(t *testing.T) {
		_, err := f.svc.ClassifySubmission(f.ctx, researcher, "sub-1", &dto.ClassifySubmissionRequest{
			ReviewCategory: model.ReviewCategoryExempt, TopicTags: []string{"ethics"},
		})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("期望 ErrPermissionDenied，实际: %v", err)
		}
	})

	t.Run("成功", func(t *testing.T) {
		resp, err := f.svc.ClassifySubmission(f.ctx, secretary, "sub-1", &dto.ClassifySubmissionRequest{
			ReviewCategory: model.ReviewCategoryExpedited, TopicTags: []string{"Ethics"}, Panel: "med",
		})
		if err != nil {
			t.Fatalf("分类应成功: %v", err)
		}
		if resp.Status != model.SubmissionStatusClassified || resp.Panel != "med" {
			t.Errorf("分类结果不符: %+v", resp)
		}
		if resp.Version != 2 {
			t.Errorf("版本应递增到 2，实际 %d", resp.Version)
		}
	})

	t.Run("重复分类非法", func(t *testing.T) {
		_, err := f.svc.ClassifySubmission(f.ctx, secretary, "sub-1", &dto.ClassifySubmissionRequest{
			ReviewCategory: model.ReviewCategoryExempt, TopicTags: []string{"ethics"},
		})
		assertInvalidTransition(t, err, nil)
		var ite *workflow.InvalidTransitionError
		if !errors.As(err, &ite) || ite.From != workflow.StateClassified {
			t.Errorf("错误应携带当前状态，实际: %v", err)
		}
	})

	if _, err := f.svc.ClassifySubmission(f.ctx, secretary, "missing", &dto.ClassifySubmissionRequest{}); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("期望 ErrSubmissionNotFound，实际: %v", err)
	}
}

// ════════════════════════════════════════════════════════════
// 场景 A：推荐并分配
// ════════════════════════════════════════════════════════════

func TestScenarioA_ProposeAndCommit(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()

	proposal, err := f.svc.ProposeReviewers(f.ctx, staff, "sub-1", &dto.ProposeReviewersRequest{K: 2})
	if err != nil {
		t.Fatalf("ProposeReviewers 应成功: %v", err)
	}
	if len(proposal.Reviewers) != 2 || proposal.Insufficient {
		t.Fatalf("应恰好推荐 2 人，实际 %+v", proposal)
	}
	// 重合度 2 的 rev-a(负载0)、rev-b(负载1)、rev-e(负载2) 中取负载最低的两位
	if proposal.Reviewers[0].ReviewerID != "rev-a" || proposal.Reviewers[1].ReviewerID != "rev-b" {
		t.Errorf("推荐顺序不符: %+v", proposal.Reviewers)
	}

	resp := f.commit(t, "rev-a", "rev-b")
	if resp.Submission.Status != model.SubmissionStatusUnderReview {
		t.Errorf("分配后应进入 under_review，实际 %s", resp.Submission.Status)
	}
	if resp.Warning != "" {
		t.Errorf("满员分配不应有警告: %s", resp.Warning)
	}

	rows := f.pending()
	if len(rows) != 2 {
		t.Fatalf("应创建 2 条 pending 分配，实际 %d", len(rows))
	}
	for _, a := range rows {
		if got := a.DueAt.Sub(a.AssignedAt); got != 14*24*time.Hour {
			t.Errorf("截止日期应为分配后 14 天，实际 %v", got)
		}
		if a.DueAt.Location() != time.UTC {
			t.Errorf("截止日期应为 UTC")
		}
	}
	if len(f.notifier.assigned) != 2 {
		t.Errorf("应发送 2 条分配通知，实际 %d", len(f.notifier.assigned))
	}
}

func TestProposeReviewers_Insufficient(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-a", ExpertiseTags: model.StringArray{"ethics"}})
	f.seedClassified()

	proposal, err := f.svc.ProposeReviewers(f.ctx, staff, "sub-1", &dto.ProposeReviewersRequest{K: 3})
	if err != nil {
		t.Fatalf("候选不足不应失败: %v", err)
	}
	if !proposal.Insufficient || len(proposal.Reviewers) != 1 || proposal.Warning == "" {
		t.Errorf("应返回部分结果并标记不足，实际 %+v", proposal)
	}
}

func TestCommitAssignment_Guards(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		setup func(f *workflowFixture)
		want  error
	}{
		{"空列表", nil, nil, ErrEmptyReviewerSet},
		{"重复审查人", []string{"rev-a", "rev-a"}, nil, ErrDuplicateReviewer},
		{"审查人不存在", []string{"rev-a", "rev-x"}, nil, ErrReviewerNotFound},
		{"审查人不可用", []string{"rev-a", "rev-b"}, func(f *workflowFixture) {
			f.store.putReviewer(model.Reviewer{ReviewerID: "rev-b", Availability: model.ReviewerUnavailable})
		}, ErrReviewerUnavailable},
		{"自审", []string{"rev-a", researcher.UserID}, func(f *workflowFixture) {
			f.store.putReviewer(model.Reviewer{ReviewerID: researcher.UserID})
		}, ErrSelfReview},
		{"已声明冲突", []string{"rev-a", "rev-c"}, func(f *workflowFixture) {
			f.store.putAssignment(model.ReviewAssignment{SubmissionID: "sub-1", ReviewerID: "rev-c", Status: model.AssignmentConflict})
		}, ErrReviewerConflicted},
		{"低于最小人数", []string{"rev-a"}, nil, ErrBelowMinimumPanel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkflowFixture(t)
			f.seedReviewers()
			f.seedClassified()
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{ReviewerIDs: tt.ids})
			assertInvalidTransition(t, err, tt.want)
			if got := f.store.submission("sub-1"); got.Status != model.SubmissionStatusClassified || got.Version != 1 {
				t.Errorf("守卫失败不应修改提交: %s v%d", got.Status, got.Version)
			}
			if n := len(f.pending()); n != 0 {
				t.Errorf("守卫失败不应创建分配，实际 %d", n)
			}
		})
	}
}

func TestCommitAssignment_AllowPartial(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()

	resp, err := f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{
		ReviewerIDs: []string{"rev-c"}, AllowPartial: true,
	})
	if err != nil {
		t.Fatalf("AllowPartial 时应允许单人分配: %v", err)
	}
	if resp.Warning == "" || len(resp.Assignments) != 1 {
		t.Errorf("应返回低于最小人数的警告，实际 %+v", resp)
	}
}

func TestCommitAssignment_DuplicatePending(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.store.putAssignment(model.ReviewAssignment{
		SubmissionID: "sub-1", ReviewerID: "rev-a", Status: model.AssignmentPending,
		AssignedAt: f.clock.Now(), DueAt: f.clock.Now().Add(time.Hour),
	})

	_, err := f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{ReviewerIDs: []string{"rev-a", "rev-b"}})
	if !errors.Is(err, ErrDuplicateAssignment) {
		t.Fatalf("期望 ErrDuplicateAssignment，实际: %v", err)
	}
	count := 0
	for _, a := range f.pending() {
		if a.ReviewerID == "rev-a" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("同一审查人最多一条 pending，实际 %d", count)
	}
}

func TestCommitAssignment_IllegalState(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	_, err := f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{ReviewerIDs: []string{"rev-c", "rev-d"}})
	assertInvalidTransition(t, err, nil)
	if _, err := f.svc.ProposeReviewers(f.ctx, staff, "sub-1", &dto.ProposeReviewersRequest{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("审查中不能再推荐，实际: %v", err)
	}
}

// ════════════════════════════════════════════════════════════
// 场景 B / C：利益冲突
// ════════════════════════════════════════════════════════════

func TestScenarioB_ConflictWithReplacement(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")
	originalDue := f.pending()[0].DueAt

	f.clock.Advance(24 * time.Hour)
	resp, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-a"), "sub-1", "rev-a", &dto.DeclareConflictRequest{Reason: "合作者"})
	if err != nil {
		t.Fatalf("DeclareConflict 应成功: %v", err)
	}
	if !resp.Replaced || resp.Replacement == nil {
		t.Fatalf("应找到替换人: %+v", resp)
	}
	// 剩余候选中 rev-e 重合度最高
	if resp.Replacement.ReviewerID != "rev-e" {
		t.Errorf("期望替换人 rev-e，实际 %s", resp.Replacement.ReviewerID)
	}
	if resp.Retired.Status != model.AssignmentConflict || resp.Retired.ReplacementID == nil {
		t.Errorf("原分配应标记为 conflict 并指向替换分配: %+v", resp.Retired)
	}
	if resp.ActiveCount != 2 || resp.BelowMinimum {
		t.Errorf("应保持 2 条有效分配，实际 %d", resp.ActiveCount)
	}

	rows := f.pending()
	if len(rows) != 2 {
		t.Fatalf("应有 2 条 pending 分配，实际 %d", len(rows))
	}
	for _, a := range rows {
		if !a.DueAt.Equal(originalDue) {
			t.Errorf("替换分配应保留原截止日期 %v，实际 %v", originalDue, a.DueAt)
		}
	}
	if got := f.store.submission("sub-1"); got.Status != model.SubmissionStatusUnderReview {
		t.Errorf("冲突处理不改变状态，实际 %s", got.Status)
	}
	if last := f.notifier.assigned[len(f.notifier.assigned)-1]; !last.Replacement || last.ReviewerID != "rev-e" {
		t.Errorf("应通知替换审查人: %+v", last)
	}
}

func TestScenarioC_ConflictWithoutReplacement(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-a", ExpertiseTags: model.StringArray{"ethics"}})
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-b", ExpertiseTags: model.StringArray{"survey"}})
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	resp, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-a"), "sub-1", "rev-a", &dto.DeclareConflictRequest{})
	if !errors.Is(err, ErrNoReplacement) {
		t.Fatalf("期望 ErrNoReplacement，实际: %v", err)
	}
	if resp == nil || resp.Replaced || resp.ActiveCount != 1 || !resp.BelowMinimum {
		t.Errorf("应返回缩减后的审查组信息: %+v", resp)
	}
	if n := len(f.pending()); n != 1 {
		t.Errorf("剩余 pending 分配应为 1，实际 %d", n)
	}
	if got := f.store.submission("sub-1"); got.Status != model.SubmissionStatusUnderReview {
		t.Errorf("状态应保持 under_review，实际 %s", got.Status)
	}
}

func TestDeclareConflict_Idempotent(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	first, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-a"), "sub-1", "rev-a", &dto.DeclareConflictRequest{})
	if err != nil {
		t.Fatalf("首次声明应成功: %v", err)
	}
	rowsBefore := len(f.store.assignmentsOf("sub-1"))
	versionBefore := f.store.submission("sub-1").Version

	second, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-a"), "sub-1", "rev-a", &dto.DeclareConflictRequest{})
	if err != nil {
		t.Fatalf("重复声明应返回首次结果: %v", err)
	}
	if second.Replacement == nil || second.Replacement.ID != first.Replacement.ID {
		t.Errorf("重复声明应返回同一替换分配")
	}
	if len(f.store.assignmentsOf("sub-1")) != rowsBefore || f.store.submission("sub-1").Version != versionBefore {
		t.Error("重复声明不应产生任何写入")
	}
}

func TestDeclareConflict_Permissions(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	if _, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-b"), "sub-1", "rev-a", &dto.DeclareConflictRequest{}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("审查人不能替他人声明冲突，实际: %v", err)
	}
	if _, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-c"), "sub-1", "rev-c", &dto.DeclareConflictRequest{}); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("未分配的审查人应返回 ErrAssignmentNotFound，实际: %v", err)
	}
	if _, err := f.svc.DeclareConflict(f.ctx, staff, "sub-1", "rev-b", &dto.DeclareConflictRequest{}); err != nil {
		t.Errorf("工作人员可代为登记冲突: %v", err)
	}
}

// ════════════════════════════════════════════════════════════
// 改派
// ════════════════════════════════════════════════════════════

func TestReassignReviewer(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	t.Run("指定替换人不可用", func(t *testing.T) {
		_, err := f.svc.ReassignReviewer(f.ctx, staff, "sub-1", "rev-a", &dto.ReassignReviewerRequest{ReplacementID: "rev-b"})
		if !errors.Is(err, ErrDuplicateAssignment) {
			t.Errorf("已在审查组中的审查人不能作为替换人，实际: %v", err)
		}
	})

	t.Run("审查人无权改派", func(t *testing.T) {
		_, err := f.svc.ReassignReviewer(f.ctx, reviewer("rev-a"), "sub-1", "rev-a", &dto.ReassignReviewerRequest{})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("期望 ErrPermissionDenied，实际: %v", err)
		}
	})

	var replacementID string
	t.Run("指定替换人", func(t *testing.T) {
		resp, err := f.svc.ReassignReviewer(f.ctx, staff, "sub-1", "rev-a", &dto.ReassignReviewerRequest{ReplacementID: "rev-d"})
		if err != nil {
			t.Fatalf("改派应成功: %v", err)
		}
		if resp.Retired.Status != model.AssignmentReassigned || resp.Replacement.ReviewerID != "rev-d" {
			t.Errorf("改派结果不符: %+v", resp)
		}
		replacementID = resp.Replacement.ID
	})

	t.Run("幂等", func(t *testing.T) {
		rows := len(f.store.assignmentsOf("sub-1"))
		resp, err := f.svc.ReassignReviewer(f.ctx, staff, "sub-1", "rev-a", &dto.ReassignReviewerRequest{})
		if err != nil {
			t.Fatalf("重复改派应返回首次结果: %v", err)
		}
		if resp.Replacement == nil || resp.Replacement.ID != replacementID {
			t.Errorf("应返回首次的替换分配")
		}
		if len(f.store.assignmentsOf("sub-1")) != rows {
			t.Error("重复改派不应写入")
		}
	})
}

func TestReassignReviewer_NoCandidateKeepsAssignment(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-a"})
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-b"})
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	_, err := f.svc.ReassignReviewer(f.ctx, staff, "sub-1", "rev-a", &dto.ReassignReviewerRequest{})
	if !errors.Is(err, ErrNoReplacement) {
		t.Fatalf("期望 ErrNoReplacement，实际: %v", err)
	}
	if n := len(f.pending()); n != 2 {
		t.Errorf("没有替换人时原分配保持不变，实际 pending=%d", n)
	}
}

// ════════════════════════════════════════════════════════════
// 场景 D：并发提交分配
// ════════════════════════════════════════════════════════════

func TestScenarioD_ConcurrentCommit(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()

	// 两个调用者都读到版本 1 之后才允许任一方写入
	var arrived sync.WaitGroup
	arrived.Add(2)
	var calls int32
	f.store.afterGetSubmission = func() {
		if atomic.AddInt32(&calls, 1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
	}

	sets := [][]string{{"rev-a", "rev-b"}, {"rev-c", "rev-d"}}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{ReviewerIDs: sets[i]})
		}(i)
	}
	wg.Wait()

	var ok, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConcurrentModification):
			conflicted++
		default:
			t.Errorf("意外错误: %v", err)
		}
	}
	if ok != 1 || conflicted != 1 {
		t.Fatalf("期望恰好一个成功一个 ConcurrentModification，实际 ok=%d conflict=%d", ok, conflicted)
	}
	if n := len(f.pending()); n != 2 {
		t.Errorf("只应写入胜者的 2 条分配，实际 %d", n)
	}
	if got := f.store.submission("sub-1"); got.Version != 2 {
		t.Errorf("版本应只递增一次，实际 %d", got.Version)
	}

	// 败者重试后看到新状态，得到 InvalidTransition 而不是重复分配
	f.store.afterGetSubmission = nil
	loser := sets[0]
	if errs[0] == nil {
		loser = sets[1]
	}
	err := RetryOnConflict(f.ctx, 3, func() error {
		_, err := f.svc.CommitAssignment(f.ctx, staff, "sub-1", &dto.CommitAssignmentRequest{ReviewerIDs: loser})
		return err
	})
	assertInvalidTransition(t, err, nil)
}

// ════════════════════════════════════════════════════════════
// 审查完成、修订往返、发布与驳回
// ════════════════════════════════════════════════════════════

func TestRecordReviewCompletion_AutoComplete(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	resp := f.review(t, "rev-a", model.VerdictApprove)
	if resp.Status != model.SubmissionStatusUnderReview {
		t.Errorf("仍有未完成审查时保持 under_review，实际 %s", resp.Status)
	}
	if _, err := f.svc.RecordReviewCompletion(f.ctx, reviewer("rev-a"), "sub-1", &dto.RecordReviewRequest{Verdict: model.VerdictApprove}); !errors.Is(err, ErrAssignmentNotPending) {
		t.Errorf("重复提交审查结果应返回 ErrAssignmentNotPending，实际: %v", err)
	}

	// 工作人员代为录入
	resp, err := f.svc.RecordReviewCompletion(f.ctx, staff, "sub-1", &dto.RecordReviewRequest{ReviewerID: "rev-b", Verdict: model.VerdictApprove})
	if err != nil {
		t.Fatalf("代录应成功: %v", err)
	}
	if resp.Status != model.SubmissionStatusReviewComplete {
		t.Errorf("全部通过后应自动进入 review_complete，实际 %s", resp.Status)
	}
	if resp.ReleasedAt != nil {
		t.Error("自动完成不等于发布")
	}
}

func TestRecordReviewCompletion_WrongState(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()

	_, err := f.svc.RecordReviewCompletion(f.ctx, reviewer("rev-a"), "sub-1", &dto.RecordReviewRequest{Verdict: model.VerdictApprove})
	assertInvalidTransition(t, err, nil)

	f.commit(t, "rev-a", "rev-b")
	if _, err := f.svc.RecordReviewCompletion(f.ctx, reviewer("rev-c"), "sub-1", &dto.RecordReviewRequest{Verdict: model.VerdictApprove}); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("未分配的审查人应返回 ErrAssignmentNotFound，实际: %v", err)
	}
	if _, err := f.svc.RecordReviewCompletion(f.ctx, reviewer("rev-a"), "sub-1", &dto.RecordReviewRequest{ReviewerID: "rev-b", Verdict: model.VerdictApprove}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("审查人不能替他人提交，实际: %v", err)
	}
}

func TestRevisionRoundTrip(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	revisions := []int{f.store.submission("sub-1").RevisionCount}
	track := func() {
		revisions = append(revisions, f.store.submission("sub-1").RevisionCount)
	}

	// 1. 一位要求修订、另一位尚未提交
	resp := f.review(t, "rev-a", model.VerdictRevisionNeeded)
	if resp.Status != model.SubmissionStatusUnderReview {
		t.Fatalf("存在修订意见时不应自动完成，实际 %s", resp.Status)
	}
	if _, err := f.svc.ReleaseDocuments(f.ctx, staff, "sub-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("未全部完成时不能发布，实际: %v", err)
	}

	// 2. 请求修订：剩余 pending 行退出
	resp, err := f.svc.RequestRevision(f.ctx, secretary, "sub-1", &dto.RequestRevisionRequest{Reason: "补充知情同意书"})
	if err != nil {
		t.Fatalf("RequestRevision 应成功: %v", err)
	}
	if resp.Status != model.SubmissionStatusUnderRevision {
		t.Fatalf("应进入 under_revision，实际 %s", resp.Status)
	}
	if n := len(f.pending()); n != 0 {
		t.Errorf("修订请求后不应有 pending 分配，实际 %d", n)
	}
	if countStatus(f.store.assignmentsOf("sub-1"), model.AssignmentWithdrawn) != 1 {
		t.Error("rev-b 的 pending 分配应标记为 withdrawn")
	}
	if len(f.notifier.revisions) != 1 {
		t.Error("应通知研究者修订")
	}
	track()

	// 3. 缺少必需文件时不能重新提交
	_, err = f.svc.ResubmitSubmission(f.ctx, researcher, "sub-1", &dto.ResubmitRequest{})
	assertInvalidTransition(t, err, ErrMissingRevisedDocuments)

	// 4. 非提交者不能重新提交
	other := Actor{UserID: "researcher-2", Role: RoleResearcher}
	if _, err := f.svc.ResubmitSubmission(f.ctx, other, "sub-1", &dto.ResubmitRequest{}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("期望 ErrPermissionDenied，实际: %v", err)
	}

	resp, err = f.svc.ResubmitSubmission(f.ctx, researcher, "sub-1", &dto.ResubmitRequest{
		Documents: []dto.DocumentInput{{DocType: "revised_protocol", FileName: "p2.pdf", FileKey: "k/p2.pdf"}},
	})
	if err != nil {
		t.Fatalf("Resubmit 应成功: %v", err)
	}
	if resp.Status != model.SubmissionStatusClassified || resp.RevisionCount != 1 {
		t.Fatalf("应回到 classified 且 revision_count=1，实际 %s %d", resp.Status, resp.RevisionCount)
	}
	track()

	// 5. 连续性：上一轮审查人优先
	proposal, err := f.svc.ProposeReviewers(f.ctx, staff, "sub-1", &dto.ProposeReviewersRequest{K: 2})
	if err != nil {
		t.Fatalf("ProposeReviewers 应成功: %v", err)
	}
	for _, r := range proposal.Reviewers {
		if !r.Continuity {
			t.Errorf("重新提交后应优先推荐上一轮审查人，实际 %+v", proposal.Reviewers)
		}
	}

	// 6. 新一轮分配与审查
	f.commit(t, "rev-a", "rev-b")
	for _, a := range f.pending() {
		if a.Cycle != 1 {
			t.Errorf("新分配应属于第 1 轮，实际 %d", a.Cycle)
		}
	}
	f.review(t, "rev-a", model.VerdictApprove)
	resp = f.review(t, "rev-b", model.VerdictApprove)
	if resp.Status != model.SubmissionStatusReviewComplete {
		t.Fatalf("新一轮全部通过后应完成，实际 %s", resp.Status)
	}
	track()

	// 7. 发布一次
	resp, err = f.svc.ReleaseDocuments(f.ctx, staff, "sub-1")
	if err != nil {
		t.Fatalf("发布应成功: %v", err)
	}
	if resp.ReleasedAt == nil || len(f.notifier.releases) != 1 {
		t.Error("发布应记录时间并通知")
	}
	_, err = f.svc.ReleaseDocuments(f.ctx, staff, "sub-1")
	assertInvalidTransition(t, err, ErrAlreadyReleased)
	var ite *workflow.InvalidTransitionError
	if errors.As(err, &ite) && len(ite.Allowed) != 0 {
		t.Errorf("已发布后 release 不应再列为允许事件，实际 %v", ite.Allowed)
	}

	// 8. review_complete 为终态，不能驳回
	_, err = f.svc.RejectSubmission(f.ctx, admin, "sub-1", &dto.RejectSubmissionRequest{Reason: "不应成功"})
	assertInvalidTransition(t, err, nil)
	track()

	for i := 1; i < len(revisions); i++ {
		if revisions[i] < revisions[i-1] {
			t.Fatalf("revision_count 不应减少: %v", revisions)
		}
	}

	detail, err := f.svc.GetSubmission(f.ctx, researcher, "sub-1")
	if err != nil {
		t.Fatalf("GetSubmission 应成功: %v", err)
	}
	events := make([]string, 0, len(detail.History))
	for _, h := range detail.History {
		events = append(events, h.Event)
	}
	want := "request_revision,resubmit,assign_reviewers,complete_review,release"
	if got := strings.Join(events, ","); !strings.HasSuffix(got, want) {
		t.Errorf("状态历史不符: %s", got)
	}
	if len(detail.ActiveAssignments) != 0 {
		t.Error("研究者看不到审查分配")
	}
}

func TestRequestRevision_NeedsRevisionVerdict(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")
	f.review(t, "rev-a", model.VerdictApprove)

	_, err := f.svc.RequestRevision(f.ctx, staff, "sub-1", &dto.RequestRevisionRequest{})
	assertInvalidTransition(t, err, ErrNoRevisionVerdict)
}

func TestConflictWithoutReplacementCompletesReview(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-a"})
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-b"})
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")
	f.review(t, "rev-a", model.VerdictApprove)

	resp, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-b"), "sub-1", "rev-b", &dto.DeclareConflictRequest{})
	if !errors.Is(err, ErrNoReplacement) {
		t.Fatalf("期望 ErrNoReplacement，实际: %v", err)
	}
	if resp == nil || resp.ActiveCount != 1 || !resp.BelowMinimum {
		t.Errorf("冲突结果不正确: %+v", resp)
	}
	if got := f.store.submission("sub-1"); got.Status != model.SubmissionStatusReviewComplete {
		t.Fatalf("剩余分配全部完成时冲突应触发 complete_review，实际 %s", got.Status)
	}

	// 重复声明返回首次结果，不再迁移
	if _, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-b"), "sub-1", "rev-b", &dto.DeclareConflictRequest{}); !errors.Is(err, ErrNoReplacement) {
		t.Fatalf("重复声明期望 ErrNoReplacement，实际: %v", err)
	}

	released, err := f.svc.ReleaseDocuments(f.ctx, staff, "sub-1")
	if err != nil {
		t.Fatalf("review_complete 后可发布: %v", err)
	}
	if released.Status != model.SubmissionStatusReviewComplete || released.ReleasedAt == nil {
		t.Errorf("发布后应为 review_complete 且已发布: %+v", released)
	}
}

func TestConflictWithoutReplacement_RevisionVerdictStaysUnderReview(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-a"})
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-b"})
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")
	f.review(t, "rev-a", model.VerdictRevisionNeeded)

	if _, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-b"), "sub-1", "rev-b", &dto.DeclareConflictRequest{}); !errors.Is(err, ErrNoReplacement) {
		t.Fatalf("期望 ErrNoReplacement，实际: %v", err)
	}
	if got := f.store.submission("sub-1"); got.Status != model.SubmissionStatusUnderReview {
		t.Fatalf("存在 revision_needed 时保持 under_review，实际 %s", got.Status)
	}
}

func TestRejectSubmission(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	if _, err := f.svc.RejectSubmission(f.ctx, staff, "sub-1", &dto.RejectSubmissionRequest{Reason: "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("只有管理员能驳回，实际: %v", err)
	}

	resp, err := f.svc.RejectSubmission(f.ctx, admin, "sub-1", &dto.RejectSubmissionRequest{Reason: "材料造假"})
	if err != nil {
		t.Fatalf("驳回应成功: %v", err)
	}
	if resp.Status != model.SubmissionStatusRejected || len(resp.AllowedEvents) != 0 {
		t.Errorf("驳回后为终态: %+v", resp)
	}
	if n := len(f.pending()); n != 0 {
		t.Errorf("驳回后不应保留 pending 分配，实际 %d", n)
	}

	_, err = f.svc.RejectSubmission(f.ctx, admin, "sub-1", &dto.RejectSubmissionRequest{Reason: "again"})
	assertInvalidTransition(t, err, nil)
}

// ════════════════════════════════════════════════════════════
// 查询与可见性
// ════════════════════════════════════════════════════════════

func TestGetSubmission_Visibility(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	if _, err := f.svc.GetSubmission(f.ctx, Actor{UserID: "researcher-2", Role: RoleResearcher}, "sub-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("其他研究者不可见，实际: %v", err)
	}
	if _, err := f.svc.GetSubmission(f.ctx, reviewer("rev-c"), "sub-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("未分配的审查人不可见，实际: %v", err)
	}
	detail, err := f.svc.GetSubmission(f.ctx, reviewer("rev-a"), "sub-1")
	if err != nil {
		t.Fatalf("被分配的审查人可见: %v", err)
	}
	if len(detail.ActiveAssignments) != 2 {
		t.Errorf("应返回 2 条有效分配，实际 %d", len(detail.ActiveAssignments))
	}
	if _, err := f.svc.GetSubmission(f.ctx, staff, "missing"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("期望 ErrSubmissionNotFound，实际: %v", err)
	}

	byCode, err := f.svc.GetSubmission(f.ctx, staff, "UMREC-2026-AAAAAA")
	if err != nil || byCode.ID != "sub-1" {
		t.Errorf("按编号查询应命中 sub-1: %v %v", byCode, err)
	}
	if _, err := f.svc.GetSubmission(f.ctx, staff, "UMREC-2026-ZZZZZZ"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Errorf("未知编号期望 ErrSubmissionNotFound，实际: %v", err)
	}
}

func TestGetSubmission_ConflictedReviewerLosesAccess(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")
	f.review(t, "rev-b", model.VerdictRevisionNeeded)

	if _, err := f.svc.DeclareConflict(f.ctx, reviewer("rev-a"), "sub-1", "rev-a", &dto.DeclareConflictRequest{Reason: "合作者"}); err != nil {
		t.Fatalf("DeclareConflict 应成功: %v", err)
	}

	if _, err := f.svc.GetSubmission(f.ctx, reviewer("rev-a"), "sub-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("声明冲突的审查人不应再看到其他审查意见，实际: %v", err)
	}
	if _, err := f.svc.GetSubmission(f.ctx, reviewer("rev-b"), "sub-1"); err != nil {
		t.Errorf("已完成审查的审查人仍可见: %v", err)
	}
	if _, err := f.svc.GetSubmission(f.ctx, reviewer("rev-e"), "sub-1"); err != nil {
		t.Errorf("替换审查人应可见: %v", err)
	}
}

func TestListSubmissions_Scope(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedClassified()
	f.store.putSubmission(model.Submission{SubmissionID: "sub-2", Code: "C2", SubmitterID: "researcher-2", Status: model.SubmissionStatusNew})

	mine, total, err := f.svc.ListSubmissions(f.ctx, researcher, &dto.SubmissionListRequest{})
	if err != nil || total != 1 || mine[0].ID != "sub-1" {
		t.Errorf("研究者只能看到自己的提交: %v %d %v", mine, total, err)
	}
	_, total, err = f.svc.ListSubmissions(f.ctx, staff, &dto.SubmissionListRequest{Status: model.SubmissionStatusNew})
	if err != nil || total != 1 {
		t.Errorf("按状态过滤应返回 1 条，实际 %d %v", total, err)
	}
	if _, _, err := f.svc.ListSubmissions(f.ctx, reviewer("rev-a"), &dto.SubmissionListRequest{}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("审查人不能列出提交，实际: %v", err)
	}
}

func TestListAssignments(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seedReviewers()
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")

	list, err := f.svc.ListAssignmentsBySubmission(f.ctx, staff, "sub-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("应返回 2 条分配: %v %v", list, err)
	}
	if _, err := f.svc.ListAssignmentsBySubmission(f.ctx, researcher, "sub-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("研究者不能查看分配台账，实际: %v", err)
	}

	mine, err := f.svc.ListAssignmentsByReviewer(f.ctx, reviewer("rev-b"), "rev-b", true)
	if err != nil {
		t.Fatalf("审查人查看自己的分配应成功: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("rev-b 有 2 条待审分配（含其它提交），实际 %d", len(mine))
	}
	if _, err := f.svc.ListAssignmentsByReviewer(f.ctx, reviewer("rev-a"), "rev-b", false); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("不能查看他人的分配，实际: %v", err)
	}
	if _, err := f.svc.ListAssignmentsByReviewer(f.ctx, staff, "rev-x", false); !errors.Is(err, ErrReviewerNotFound) {
		t.Errorf("期望 ErrReviewerNotFound，实际: %v", err)
	}
}

func TestListOverdueAssignments_ComputedOnRead(t *testing.T) {
	f := newWorkflowFixture(t)
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-a"})
	f.store.putReviewer(model.Reviewer{ReviewerID: "rev-b"})
	f.seedClassified()
	f.commit(t, "rev-a", "rev-b")
	f.review(t, "rev-a", model.VerdictApprove)

	req := &dto.PaginationRequest{Page: 1, PageSize: 20}
	list, total, err := f.svc.ListOverdueAssignments(f.ctx, staff, req)
	if err != nil || total != 0 || len(list) != 0 {
		t.Fatalf("未到期时不应有逾期分配: %v %d", err, total)
	}

	f.clock.Advance(14*24*time.Hour + time.Second)
	list, total, err = f.svc.ListOverdueAssignments(f.ctx, staff, req)
	if err != nil {
		t.Fatalf("ListOverdueAssignments 应成功: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ReviewerID != "rev-b" || !list[0].Overdue {
		t.Errorf("只有未完成的 rev-b 逾期，实际 %+v", list)
	}
	if _, _, err := f.svc.ListOverdueAssignments(f.ctx, reviewer("rev-a"), req); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("审查人不能查看逾期列表，实际: %v", err)
	}
}
