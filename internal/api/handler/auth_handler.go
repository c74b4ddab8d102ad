package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/pkg/response"
)

// AuthHandler 认证辅助 HTTP 处理器
// 登录与会话由外部身份系统负责，这里只提供注销与邮箱验证码
type AuthHandler struct {
	authSvc service.AuthService
}

// NewAuthHandler 创建 AuthHandler
func NewAuthHandler(authSvc service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Me 当前调用者身份
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"user_id": actor.UserID, "role": actor.Role})
}

// Logout 注销当前 Token（加入黑名单直至过期）
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := MustGetClaims(c)
	if !ok {
		return
	}
	if err := h.authSvc.Logout(c.Request.Context(), claims); err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, nil)
}

// IssueVerificationCode 申请邮箱验证码
// POST /api/v1/auth/verification-codes
func (h *AuthHandler) IssueVerificationCode(c *gin.Context) {
	var req dto.IssueVerificationCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	result, err := h.authSvc.IssueVerificationCode(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// VerifyCode 校验邮箱验证码
// POST /api/v1/auth/verification-codes/verify
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req dto.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	if err := h.authSvc.VerifyCode(c.Request.Context(), &req); err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, gin.H{"verified": true})
}
