package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/internal/workflow"
	"github.com/maleckot/umrec-sub006/pkg/response"
)

// 错误码
//
//	100xx 通用（参数、认证、权限、限流）
//	201xx 资源不存在
//	202xx 审查流程冲突
//	210xx 验证码
const (
	codeBadRequest = 10001

	codeSubmissionNotFound   = 20101
	codeReviewerNotFound     = 20102
	codeAssignmentNotFound   = 20103
	codeNotificationNotFound = 20104

	codeInvalidTransition      = 20201
	codeConcurrentModification = 20202
	codeDuplicateAssignment    = 20203
	codeAssignmentNotPending   = 20204
	codeNoReplacement          = 20205

	codeVerificationNotFound = 21001
	codeVerificationExpired  = 21002
	codeVerificationConsumed = 21003
	codeVerificationMismatch = 21004
	codeVerificationLocked   = 21005
)

// transitionDetails 非法迁移的详情：当前状态、尝试的事件与允许的事件
func transitionDetails(err error) string {
	var ite *workflow.InvalidTransitionError
	if !errors.As(err, &ite) {
		return ""
	}
	allowed := make([]string, len(ite.Allowed))
	for i, ev := range ite.Allowed {
		allowed[i] = string(ev)
	}
	details := fmt.Sprintf("current=%s event=%s allowed=[%s]", ite.From, ite.Event, strings.Join(allowed, ","))
	if ite.Cause != nil {
		details += " cause=" + ite.Cause.Error()
	} else if ite.Reason != "" {
		details += " reason=" + ite.Reason
	}
	return details
}

// handleServiceError 将 Service 层错误映射为统一响应
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		response.Forbidden(c, 10003, "无权执行此操作")

	case errors.Is(err, service.ErrSubmissionNotFound):
		response.NotFound(c, codeSubmissionNotFound, "提交不存在")
	case errors.Is(err, service.ErrReviewerNotFound) && !errors.Is(err, service.ErrInvalidTransition):
		response.NotFound(c, codeReviewerNotFound, "审查人不存在")
	case errors.Is(err, service.ErrAssignmentNotFound):
		response.NotFound(c, codeAssignmentNotFound, "未找到该审查人在本轮的分配")
	case errors.Is(err, service.ErrNotificationNotFound):
		response.NotFound(c, codeNotificationNotFound, "通知不存在")

	case errors.Is(err, service.ErrInvalidTransition):
		response.ConflictWithDetails(c, codeInvalidTransition, err.Error(), transitionDetails(err))
	case errors.Is(err, service.ErrConcurrentModification):
		response.Conflict(c, codeConcurrentModification, "提交已被其他操作修改，请刷新后重试")
	case errors.Is(err, service.ErrDuplicateAssignment):
		response.Conflict(c, codeDuplicateAssignment, err.Error())
	case errors.Is(err, service.ErrAssignmentNotPending):
		response.Conflict(c, codeAssignmentNotPending, "该分配不处于待审状态")
	case errors.Is(err, service.ErrNoReplacement):
		response.UnprocessableEntity(c, codeNoReplacement, "没有可替换的审查人")

	case errors.Is(err, service.ErrCodeNotFound):
		response.NotFound(c, codeVerificationNotFound, "验证码不存在，请重新获取")
	case errors.Is(err, service.ErrCodeExpired):
		response.BadRequest(c, codeVerificationExpired, "验证码已过期")
	case errors.Is(err, service.ErrCodeConsumed):
		response.Conflict(c, codeVerificationConsumed, "验证码已使用")
	case errors.Is(err, service.ErrCodeMismatch):
		response.BadRequest(c, codeVerificationMismatch, "验证码错误")
	case errors.Is(err, service.ErrCodeAttemptsExceeded):
		response.TooManyRequests(c, codeVerificationLocked, "验证码尝试次数过多，请重新获取")

	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
