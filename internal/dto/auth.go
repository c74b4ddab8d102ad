package dto

// ── 认证辅助 DTO ──

// IssueVerificationCodeRequest 申请验证码
type IssueVerificationCodeRequest struct {
	Email   string `json:"email"   binding:"required,email,max=255"`
	Purpose string `json:"purpose" binding:"required,oneof=register password_reset"`
}

// VerifyCodeRequest 校验验证码
type VerifyCodeRequest struct {
	Email   string `json:"email"   binding:"required,email,max=255"`
	Purpose string `json:"purpose" binding:"required,oneof=register password_reset"`
	Code    string `json:"code"    binding:"required,numeric,min=4,max=10"`
}

// IssueVerificationCodeResponse 验证码签发结果（验证码本身经邮件下发，不在响应中返回）
type IssueVerificationCodeResponse struct {
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	ExpiresAt string `json:"expires_at"`
}

// NotificationResponse 站内通知
type NotificationResponse struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	IsRead       bool    `json:"is_read"`
	SubmissionID *string `json:"submission_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// NotificationListRequest 通知列表查询参数
type NotificationListRequest struct {
	UnreadOnly bool `form:"unread_only"`
	PaginationRequest
}
