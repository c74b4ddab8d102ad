package dto

// ── 审查分配 DTO ──

// ProposeReviewersRequest 预览审查人推荐
type ProposeReviewersRequest struct {
	K     int    `json:"k"     binding:"omitempty,min=1,max=10"`
	Panel string `json:"panel" binding:"omitempty,max=50"`
}

// CommitAssignmentRequest 提交审查人分配
// AllowPartial 为 true 时允许少于最小审查人数的分配
type CommitAssignmentRequest struct {
	ReviewerIDs  []string `json:"reviewer_ids"  binding:"required,min=1,max=10,dive,uuid"`
	AllowPartial bool     `json:"allow_partial"`
}

// RecordReviewRequest 记录审查结果
// ReviewerID 仅在工作人员代为录入时填写，审查人本人提交时取调用者身份
type RecordReviewRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"omitempty,uuid"`
	Verdict    string `json:"verdict"     binding:"required,oneof=approve revision_needed"`
	Comments   string `json:"comments"    binding:"omitempty,max=5000"`
}

// DeclareConflictRequest 利益冲突声明
type DeclareConflictRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// ReassignReviewerRequest 工作人员改派
// ReplacementID 为空时由推荐算法选择
type ReassignReviewerRequest struct {
	ReplacementID string `json:"replacement_id" binding:"omitempty,uuid"`
	Reason        string `json:"reason"         binding:"omitempty,max=500"`
}

// ReviewerAssignmentsRequest 审查人分配列表查询参数
type ReviewerAssignmentsRequest struct {
	PendingOnly bool `form:"pending_only"`
}

// ── 响应 ──

// AssignmentResponse 分配记录
type AssignmentResponse struct {
	ID            string  `json:"id"`
	SubmissionID  string  `json:"submission_id"`
	ReviewerID    string  `json:"reviewer_id"`
	Cycle         int     `json:"cycle"`
	Status        string  `json:"status"`
	AssignedAt    string  `json:"assigned_at"`
	DueAt         string  `json:"due_at"`
	Overdue       bool    `json:"overdue"`
	CompletedAt   *string `json:"completed_at,omitempty"`
	Verdict       string  `json:"verdict,omitempty"`
	Comments      string  `json:"comments,omitempty"`
	ReplacementID *string `json:"replacement_id,omitempty"`
}

// ProposedReviewer 推荐的审查人
type ProposedReviewer struct {
	ReviewerID  string `json:"reviewer_id"`
	Name        string `json:"name,omitempty"`
	Overlap     int    `json:"overlap"`
	PendingLoad int    `json:"pending_load"`
	Continuity  bool   `json:"continuity"`
}

// ReviewerProposalResponse 审查人推荐结果
type ReviewerProposalResponse struct {
	SubmissionID string             `json:"submission_id"`
	Requested    int                `json:"requested"`
	Reviewers    []ProposedReviewer `json:"reviewers"`
	Insufficient bool               `json:"insufficient"`
	Warning      string             `json:"warning,omitempty"`
}

// CommitAssignmentResponse 分配提交结果
type CommitAssignmentResponse struct {
	Submission  SubmissionResponse   `json:"submission"`
	Assignments []AssignmentResponse `json:"assignments"`
	Warning     string               `json:"warning,omitempty"`
}

// ConflictResolutionResponse 利益冲突处理结果
type ConflictResolutionResponse struct {
	Retired      AssignmentResponse  `json:"retired"`
	Replacement  *AssignmentResponse `json:"replacement,omitempty"`
	Replaced     bool                `json:"replaced"`
	ActiveCount  int                 `json:"active_count"`
	BelowMinimum bool                `json:"below_minimum"`
	Warning      string              `json:"warning,omitempty"`
}
