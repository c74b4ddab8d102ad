package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/pkg/response"
)

// SubmissionHandler 提交与状态迁移 HTTP 处理器
type SubmissionHandler struct {
	workflowSvc service.WorkflowService
	maxRetries  int
}

// NewSubmissionHandler 创建 SubmissionHandler
// maxRetries 为乐观锁冲突时的整体重试次数
func NewSubmissionHandler(workflowSvc service.WorkflowService, maxRetries int) *SubmissionHandler {
	return &SubmissionHandler{workflowSvc: workflowSvc, maxRetries: maxRetries}
}

// retry 在 ConcurrentModification 时重新读取并重试整个操作
func (h *SubmissionHandler) retry(c *gin.Context, fn func() error) error {
	return service.RetryOnConflict(c.Request.Context(), h.maxRetries, fn)
}

// CreateSubmission 研究者提交
// POST /api/v1/submissions
func (h *SubmissionHandler) CreateSubmission(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	result, err := h.workflowSvc.CreateSubmission(c.Request.Context(), actor, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// ListSubmissions 提交列表
// GET /api/v1/submissions
func (h *SubmissionHandler) ListSubmissions(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.SubmissionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	list, total, err := h.workflowSvc.ListSubmissions(c.Request.Context(), actor, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetSubmission 提交详情
// GET /api/v1/submissions/:id
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	result, err := h.workflowSvc.GetSubmission(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// ClassifySubmission 秘书处分类
// POST /api/v1/submissions/:id/classify
func (h *SubmissionHandler) ClassifySubmission(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.ClassifySubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	var result *dto.SubmissionResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.ClassifySubmission(c.Request.Context(), actor, c.Param("id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// ProposeReviewers 审查人推荐预览（只读，不写入任何分配）
// POST /api/v1/submissions/:id/reviewer-proposals
func (h *SubmissionHandler) ProposeReviewers(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.ProposeReviewersRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, codeBadRequest, "参数校验失败")
			return
		}
	}

	result, err := h.workflowSvc.ProposeReviewers(c.Request.Context(), actor, c.Param("id"), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// CommitAssignment 提交审查人分配
// POST /api/v1/submissions/:id/assignments
func (h *SubmissionHandler) CommitAssignment(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.CommitAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	var result *dto.CommitAssignmentResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.CommitAssignment(c.Request.Context(), actor, c.Param("id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Created(c, result)
}

// RecordReview 记录审查结果
// POST /api/v1/submissions/:id/reviews
func (h *SubmissionHandler) RecordReview(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.RecordReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	var result *dto.SubmissionResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.RecordReviewCompletion(c.Request.Context(), actor, c.Param("id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// RequestRevision 请求修订
// POST /api/v1/submissions/:id/revision-request
func (h *SubmissionHandler) RequestRevision(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.RequestRevisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, codeBadRequest, "参数校验失败")
			return
		}
	}

	var result *dto.SubmissionResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.RequestRevision(c.Request.Context(), actor, c.Param("id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// Resubmit 修订后重新提交
// POST /api/v1/submissions/:id/resubmission
func (h *SubmissionHandler) Resubmit(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.ResubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	var result *dto.SubmissionResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.ResubmitSubmission(c.Request.Context(), actor, c.Param("id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// ReleaseDocuments 发布审查结果
// POST /api/v1/submissions/:id/release
func (h *SubmissionHandler) ReleaseDocuments(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	var result *dto.SubmissionResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.ReleaseDocuments(c.Request.Context(), actor, c.Param("id"))
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// RejectSubmission 管理员驳回
// POST /api/v1/submissions/:id/reject
func (h *SubmissionHandler) RejectSubmission(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.RejectSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	var result *dto.SubmissionResponse
	err := h.retry(c, func() (err error) {
		result, err = h.workflowSvc.RejectSubmission(c.Request.Context(), actor, c.Param("id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}
