package dto

// ── 提交模块 DTO ──

// DocumentInput 提交文件元数据（文件本体由上传服务存储）
type DocumentInput struct {
	DocType  string `json:"doc_type"  binding:"required,max=50"`
	FileName string `json:"file_name" binding:"required,max=255"`
	FileKey  string `json:"file_key"  binding:"required,max=500"`
}

// CreateSubmissionRequest 研究者提交请求
type CreateSubmissionRequest struct {
	Title     string          `json:"title"      binding:"required,min=2,max=300"`
	TopicTags []string        `json:"topic_tags" binding:"omitempty,max=20,dive,min=1,max=50"`
	Documents []DocumentInput `json:"documents"  binding:"omitempty,max=20,dive"`
}

// ClassifySubmissionRequest 秘书处分类请求
type ClassifySubmissionRequest struct {
	ReviewCategory string   `json:"review_category" binding:"required,oneof=exempt expedited full_board"`
	TopicTags      []string `json:"topic_tags"      binding:"required,min=1,max=20,dive,min=1,max=50"`
	Panel          string   `json:"panel"           binding:"omitempty,max=50"`
}

// ResubmitRequest 修订后重新提交
type ResubmitRequest struct {
	Documents []DocumentInput `json:"documents"  binding:"omitempty,max=20,dive"`
	TopicTags []string        `json:"topic_tags" binding:"omitempty,max=20,dive,min=1,max=50"`
}

// RequestRevisionRequest 请求修订
type RequestRevisionRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// RejectSubmissionRequest 管理员驳回
type RejectSubmissionRequest struct {
	Reason string `json:"reason" binding:"required,min=2,max=500"`
}

// SubmissionListRequest 提交列表查询参数
type SubmissionListRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=new_submission classified under_review under_revision review_complete rejected"`
	PaginationRequest
}

// ── 响应 ──

// SubmissionResponse 提交概要
type SubmissionResponse struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Title          string   `json:"title"`
	SubmitterID    string   `json:"submitter_id"`
	Status         string   `json:"status"`
	RevisionCount  int      `json:"revision_count"`
	ReviewCategory string   `json:"review_category,omitempty"`
	Panel          string   `json:"panel,omitempty"`
	TopicTags      []string `json:"topic_tags"`
	AllowedEvents  []string `json:"allowed_events"`
	SubmittedAt    string   `json:"submitted_at"`
	ReleasedAt     *string  `json:"released_at,omitempty"`
	Version        int      `json:"version"`
}

// SubmissionDetailResponse 提交详情（含文件、当前轮次分配与状态历史）
type SubmissionDetailResponse struct {
	SubmissionResponse
	Documents         []DocumentResponse      `json:"documents"`
	ActiveAssignments []AssignmentResponse    `json:"active_assignments"`
	History           []StatusHistoryResponse `json:"history"`
}

// DocumentResponse 文件元数据
type DocumentResponse struct {
	ID       string `json:"id"`
	DocType  string `json:"doc_type"`
	FileName string `json:"file_name"`
	FileKey  string `json:"file_key"`
	Revision int    `json:"revision"`
}

// StatusHistoryResponse 状态迁移记录
type StatusHistoryResponse struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Event      string `json:"event"`
	ActorID    string `json:"actor_id"`
	Reason     string `json:"reason,omitempty"`
	At         string `json:"at"`
}
