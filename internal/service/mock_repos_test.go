package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/notify"
	"github.com/maleckot/umrec-sub006/internal/repository"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// ── 内存存储 ──
//
// 所有 mock repo 共享一把锁，读写都复制结构体，
// 行为与数据库的条件更新一致（CAS 失败返回 ErrOptimisticLock）。
// mock 没有事务：ledger 失败时已写入的部分不会回滚。

type memStore struct {
	mu  sync.Mutex
	seq int

	submissions map[string]model.Submission
	documents   []model.SubmissionDocument
	history     []model.SubmissionStatusHistory
	reviewers   map[string]model.Reviewer
	assignments map[string]model.ReviewAssignment
	codes       map[string]model.VerificationCode
	notes       map[string]model.Notification

	// afterGetSubmission 在 GetByID 读取完成后、释放锁之外调用，
	// 并发测试借此让两个调用者持有同一版本后再继续
	afterGetSubmission func()
}

func newMemStore() *memStore {
	return &memStore{
		submissions: make(map[string]model.Submission),
		reviewers:   make(map[string]model.Reviewer),
		assignments: make(map[string]model.ReviewAssignment),
		codes:       make(map[string]model.VerificationCode),
		notes:       make(map[string]model.Notification),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

func (m *memStore) toRepository() *repository.Repository {
	return &repository.Repository{
		Submission:         &mockSubmissionRepo{m},
		SubmissionDocument: &mockDocumentRepo{m},
		StatusHistory:      &mockHistoryRepo{m},
		Reviewer:           &mockReviewerRepo{m},
		Assignment:         &mockAssignmentRepo{m},
		Notification:       &mockNotificationRepo{m},
		VerificationCode:   &mockVerificationCodeRepo{m},
	}
}

// ── 种子数据辅助 ──

func (m *memStore) putSubmission(s model.Submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	m.submissions[s.SubmissionID] = s
}

func (m *memStore) submission(id string) model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions[id]
}

func (m *memStore) putReviewer(r model.Reviewer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Availability == "" {
		r.Availability = model.ReviewerAvailable
	}
	m.reviewers[r.ReviewerID] = r
}

func (m *memStore) putAssignment(a model.ReviewAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.AssignmentID == "" {
		a.AssignmentID = m.nextID("asg")
	}
	m.assignments[a.AssignmentID] = a
}

// assignmentsOf 按 (cycle, assigned_at, id) 排序
func (m *memStore) assignmentsOf(submissionID string) []model.ReviewAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignmentsLocked(func(a model.ReviewAssignment) bool { return a.SubmissionID == submissionID })
}

func (m *memStore) assignmentsLocked(keep func(a model.ReviewAssignment) bool) []model.ReviewAssignment {
	var out []model.ReviewAssignment
	for _, a := range m.assignments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cycle != out[j].Cycle {
			return out[i].Cycle < out[j].Cycle
		}
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return out
}

func countStatus(list []model.ReviewAssignment, status string) int {
	n := 0
	for _, a := range list {
		if a.Status == status {
			n++
		}
	}
	return n
}

// ── Mock SubmissionRepository ──

type mockSubmissionRepo struct{ m *memStore }

func (r *mockSubmissionRepo) Create(_ context.Context, s *model.Submission) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.submissions {
		if existing.Code == s.Code {
			return pkgerrors.ErrDuplicateKey
		}
	}
	if s.SubmissionID == "" {
		s.SubmissionID = r.m.nextID("sub")
	}
	cp := *s
	cp.Documents = nil
	r.m.submissions[s.SubmissionID] = cp
	return nil
}

func (r *mockSubmissionRepo) GetByID(_ context.Context, id string) (*model.Submission, error) {
	r.m.mu.Lock()
	s, ok := r.m.submissions[id]
	if !ok {
		r.m.mu.Unlock()
		return nil, gorm.ErrRecordNotFound
	}
	s.Documents = nil
	for _, d := range r.m.documents {
		if d.SubmissionID == id {
			s.Documents = append(s.Documents, d)
		}
	}
	hook := r.m.afterGetSubmission
	r.m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &s, nil
}

func (r *mockSubmissionRepo) GetByCode(_ context.Context, code string) (*model.Submission, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.submissions {
		if s.Code == code {
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockSubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter, offset, limit int) ([]model.Submission, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []model.Submission
	for _, s := range r.m.submissions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.SubmitterID != "" && s.SubmitterID != filter.SubmitterID {
			continue
		}
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SubmissionID < all[j].SubmissionID })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *mockSubmissionRepo) Update(_ context.Context, s *model.Submission) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	current, ok := r.m.submissions[s.SubmissionID]
	if !ok || current.Version != s.Version {
		return pkgerrors.ErrOptimisticLock
	}
	s.Version++
	cp := *s
	cp.Documents = nil
	r.m.submissions[s.SubmissionID] = cp
	return nil
}

// ── Mock SubmissionDocumentRepository ──

type mockDocumentRepo struct{ m *memStore }

func (r *mockDocumentRepo) Create(_ context.Context, d *model.SubmissionDocument) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if d.DocumentID == "" {
		d.DocumentID = r.m.nextID("doc")
	}
	r.m.documents = append(r.m.documents, *d)
	return nil
}

func (r *mockDocumentRepo) ListBySubmission(_ context.Context, submissionID string) ([]model.SubmissionDocument, error) {
	return r.list(submissionID, -1), nil
}

func (r *mockDocumentRepo) ListBySubmissionAndRevision(_ context.Context, submissionID string, revision int) ([]model.SubmissionDocument, error) {
	return r.list(submissionID, revision), nil
}

func (r *mockDocumentRepo) list(submissionID string, revision int) []model.SubmissionDocument {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.SubmissionDocument
	for _, d := range r.m.documents {
		if d.SubmissionID == submissionID && (revision < 0 || d.Revision == revision) {
			out = append(out, d)
		}
	}
	return out
}

// ── Mock StatusHistoryRepository ──

type mockHistoryRepo struct{ m *memStore }

func (r *mockHistoryRepo) Create(_ context.Context, h *model.SubmissionStatusHistory) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if h.HistoryID == "" {
		h.HistoryID = r.m.nextID("his")
	}
	r.m.history = append(r.m.history, *h)
	return nil
}

func (r *mockHistoryRepo) ListBySubmission(_ context.Context, submissionID string) ([]model.SubmissionStatusHistory, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.SubmissionStatusHistory
	for _, h := range r.m.history {
		if h.SubmissionID == submissionID {
			out = append(out, h)
		}
	}
	return out, nil
}

// ── Mock ReviewerRepository ──

type mockReviewerRepo struct{ m *memStore }

func (r *mockReviewerRepo) Upsert(_ context.Context, reviewer *model.Reviewer) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.reviewers[reviewer.ReviewerID] = *reviewer
	return nil
}

func (r *mockReviewerRepo) GetByID(_ context.Context, id string) (*model.Reviewer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if rv, ok := r.m.reviewers[id]; ok {
		return &rv, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockReviewerRepo) ListByIDs(_ context.Context, ids []string) ([]model.Reviewer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.Reviewer
	for _, id := range ids {
		if rv, ok := r.m.reviewers[id]; ok {
			out = append(out, rv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReviewerID < out[j].ReviewerID })
	return out, nil
}

func (r *mockReviewerRepo) ListAvailable(_ context.Context, panel string) ([]model.Reviewer, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.Reviewer
	for _, rv := range r.m.reviewers {
		if !rv.IsAvailable() {
			continue
		}
		if panel != "" && rv.Panel != panel {
			continue
		}
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReviewerID < out[j].ReviewerID })
	return out, nil
}

// ── Mock AssignmentRepository ──

type mockAssignmentRepo struct{ m *memStore }

func (r *mockAssignmentRepo) Create(_ context.Context, a *model.ReviewAssignment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if a.Status == "" {
		a.Status = model.AssignmentPending
	}
	if a.Status == model.AssignmentPending {
		for _, existing := range r.m.assignments {
			if existing.SubmissionID == a.SubmissionID &&
				existing.ReviewerID == a.ReviewerID &&
				existing.Status == model.AssignmentPending {
				return pkgerrors.ErrDuplicateKey
			}
		}
	}
	if a.AssignmentID == "" {
		a.AssignmentID = r.m.nextID("asg")
	}
	r.m.assignments[a.AssignmentID] = *a
	return nil
}

func (r *mockAssignmentRepo) GetByID(_ context.Context, id string) (*model.ReviewAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if a, ok := r.m.assignments[id]; ok {
		return &a, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAssignmentRepo) ListBySubmission(_ context.Context, submissionID string) ([]model.ReviewAssignment, error) {
	return r.m.assignmentsOf(submissionID), nil
}

func (r *mockAssignmentRepo) ListBySubmissionCycle(_ context.Context, submissionID string, cycle int) ([]model.ReviewAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.assignmentsLocked(func(a model.ReviewAssignment) bool {
		return a.SubmissionID == submissionID && a.Cycle == cycle
	}), nil
}

func (r *mockAssignmentRepo) ListByReviewer(_ context.Context, reviewerID string, statuses []string) ([]model.ReviewAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	list := r.m.assignmentsLocked(func(a model.ReviewAssignment) bool {
		return a.ReviewerID == reviewerID && (len(want) == 0 || want[a.Status])
	})
	sort.SliceStable(list, func(i, j int) bool { return list[i].DueAt.Before(list[j].DueAt) })
	return list, nil
}

func (r *mockAssignmentRepo) ListOverdue(_ context.Context, now time.Time, offset, limit int) ([]model.ReviewAssignment, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	list := r.m.assignmentsLocked(func(a model.ReviewAssignment) bool {
		return a.Status == model.AssignmentPending && a.DueAt.Before(now)
	})
	sort.SliceStable(list, func(i, j int) bool { return list[i].DueAt.Before(list[j].DueAt) })
	total := int64(len(list))
	if offset >= len(list) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end], total, nil
}

func (r *mockAssignmentRepo) CountPendingByReviewers(_ context.Context, reviewerIDs []string) (map[string]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	want := make(map[string]bool, len(reviewerIDs))
	for _, id := range reviewerIDs {
		want[id] = true
	}
	counts := make(map[string]int)
	for _, a := range r.m.assignments {
		if a.Status == model.AssignmentPending && want[a.ReviewerID] {
			counts[a.ReviewerID]++
		}
	}
	return counts, nil
}

func (r *mockAssignmentRepo) updatePending(id string, apply func(a *model.ReviewAssignment)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.assignments[id]
	if !ok || a.Status != model.AssignmentPending {
		return pkgerrors.ErrOptimisticLock
	}
	apply(&a)
	r.m.assignments[id] = a
	return nil
}

func (r *mockAssignmentRepo) MarkCompleted(_ context.Context, id, verdict, comments string, at time.Time) error {
	return r.updatePending(id, func(a *model.ReviewAssignment) {
		a.Status = model.AssignmentCompleted
		a.Verdict = verdict
		a.Comments = comments
		t := at.UTC()
		a.CompletedAt = &t
	})
}

func (r *mockAssignmentRepo) MarkConflict(_ context.Context, id string, replacementID *string) error {
	return r.updatePending(id, func(a *model.ReviewAssignment) {
		a.Status = model.AssignmentConflict
		a.ReplacementID = replacementID
	})
}

func (r *mockAssignmentRepo) MarkReassigned(_ context.Context, id string, replacementID string) error {
	return r.updatePending(id, func(a *model.ReviewAssignment) {
		a.Status = model.AssignmentReassigned
		a.ReplacementID = &replacementID
	})
}

func (r *mockAssignmentRepo) WithdrawPending(_ context.Context, submissionID string, cycle int) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, a := range r.m.assignments {
		if a.SubmissionID == submissionID && a.Cycle == cycle && a.Status == model.AssignmentPending {
			a.Status = model.AssignmentWithdrawn
			r.m.assignments[id] = a
			n++
		}
	}
	return n, nil
}

// ── Mock NotificationRepository ──

type mockNotificationRepo struct{ m *memStore }

func (r *mockNotificationRepo) CreateIfAbsent(_ context.Context, n *model.Notification) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.notes {
		if existing.DedupKey == n.DedupKey {
			return false, nil
		}
	}
	if n.NotificationID == "" {
		n.NotificationID = r.m.nextID("ntf")
	}
	r.m.notes[n.NotificationID] = *n
	return true, nil
}

func (r *mockNotificationRepo) ListByUser(_ context.Context, userID string, unreadOnly bool, offset, limit int) ([]model.Notification, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []model.Notification
	for _, n := range r.m.notes {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotificationID > out[j].NotificationID })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (r *mockNotificationRepo) MarkRead(_ context.Context, id, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n, ok := r.m.notes[id]
	if !ok || n.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	n.IsRead = true
	r.m.notes[id] = n
	return nil
}

// ── Mock VerificationCodeRepository ──

type mockVerificationCodeRepo struct{ m *memStore }

func codeKey(email, purpose string) string { return email + "|" + purpose }

func (r *mockVerificationCodeRepo) Upsert(_ context.Context, code *model.VerificationCode) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := codeKey(code.Email, code.Purpose)
	if existing, ok := r.m.codes[key]; ok {
		existing.CodeHash = code.CodeHash
		existing.ExpiresAt = code.ExpiresAt.UTC()
		existing.Attempts = 0
		existing.ConsumedAt = nil
		r.m.codes[key] = existing
		return nil
	}
	if code.VerificationCodeID == "" {
		code.VerificationCodeID = r.m.nextID("vc")
	}
	r.m.codes[key] = *code
	return nil
}

func (r *mockVerificationCodeRepo) Get(_ context.Context, email, purpose string) (*model.VerificationCode, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if c, ok := r.m.codes[codeKey(email, purpose)]; ok {
		return &c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockVerificationCodeRepo) find(id string) (string, bool) {
	for k, c := range r.m.codes {
		if c.VerificationCodeID == id {
			return k, true
		}
	}
	return "", false
}

func (r *mockVerificationCodeRepo) IncrementAttempts(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if k, ok := r.find(id); ok {
		c := r.m.codes[k]
		c.Attempts++
		r.m.codes[k] = c
	}
	return nil
}

func (r *mockVerificationCodeRepo) Consume(_ context.Context, id string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	k, ok := r.find(id)
	if !ok || r.m.codes[k].ConsumedAt != nil {
		return pkgerrors.ErrOptimisticLock
	}
	c := r.m.codes[k]
	t := at.UTC()
	c.ConsumedAt = &t
	r.m.codes[k] = c
	return nil
}

// ── Mock Notifier ──

type recordingNotifier struct {
	mu        sync.Mutex
	assigned  []notify.ReviewerAssignedPayload
	revisions []notify.RevisionRequestedPayload
	releases  []notify.DocumentsReleasedPayload
	codes     []notify.VerificationCodePayload
}

func (n *recordingNotifier) ReviewerAssigned(_ context.Context, p notify.ReviewerAssignedPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, p)
}

func (n *recordingNotifier) RevisionRequested(_ context.Context, p notify.RevisionRequestedPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revisions = append(n.revisions, p)
}

func (n *recordingNotifier) DocumentsReleased(_ context.Context, p notify.DocumentsReleasedPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.releases = append(n.releases, p)
}

func (n *recordingNotifier) VerificationCodeIssued(_ context.Context, p notify.VerificationCodePayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, p)
}

// ── 固定时钟 ──

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
