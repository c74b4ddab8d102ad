package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/pkg/response"
)

// AssignmentHandler 审查分配台账 HTTP 处理器（冲突声明、改派、分配查询）
type AssignmentHandler struct {
	workflowSvc service.WorkflowService
	maxRetries  int
}

// NewAssignmentHandler 创建 AssignmentHandler
func NewAssignmentHandler(workflowSvc service.WorkflowService, maxRetries int) *AssignmentHandler {
	return &AssignmentHandler{workflowSvc: workflowSvc, maxRetries: maxRetries}
}

// DeclareConflict 声明利益冲突
// POST /api/v1/submissions/:id/assignments/:reviewer_id/conflict
//
// 找不到替换人时冲突仍然生效，返回 200 与缩减后的审查组信息（warning 非空）
func (h *AssignmentHandler) DeclareConflict(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.DeclareConflictRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, codeBadRequest, "参数校验失败")
			return
		}
	}

	var result *dto.ConflictResolutionResponse
	err := service.RetryOnConflict(c.Request.Context(), h.maxRetries, func() (err error) {
		result, err = h.workflowSvc.DeclareConflict(c.Request.Context(), actor, c.Param("id"), c.Param("reviewer_id"), &req)
		return err
	})
	if err != nil && !(errors.Is(err, service.ErrNoReplacement) && result != nil) {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// ReassignReviewer 工作人员改派
// POST /api/v1/submissions/:id/assignments/:reviewer_id/reassign
func (h *AssignmentHandler) ReassignReviewer(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.ReassignReviewerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, codeBadRequest, "参数校验失败")
			return
		}
	}

	var result *dto.ConflictResolutionResponse
	err := service.RetryOnConflict(c.Request.Context(), h.maxRetries, func() (err error) {
		result, err = h.workflowSvc.ReassignReviewer(c.Request.Context(), actor, c.Param("id"), c.Param("reviewer_id"), &req)
		return err
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, result)
}

// ListBySubmission 提交的全部分配记录（含已退出的行）
// GET /api/v1/submissions/:id/assignments
func (h *AssignmentHandler) ListBySubmission(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	list, err := h.workflowSvc.ListAssignmentsBySubmission(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, gin.H{"list": list})
}

// ListMine 当前审查人的分配
// GET /api/v1/reviewers/me/assignments
func (h *AssignmentHandler) ListMine(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	h.listByReviewer(c, actor, actor.UserID)
}

// ListByReviewer 指定审查人的分配
// GET /api/v1/reviewers/:id/assignments
func (h *AssignmentHandler) ListByReviewer(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	h.listByReviewer(c, actor, c.Param("id"))
}

func (h *AssignmentHandler) listByReviewer(c *gin.Context, actor service.Actor, reviewerID string) {
	var req dto.ReviewerAssignmentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	list, err := h.workflowSvc.ListAssignmentsByReviewer(c.Request.Context(), actor, reviewerID, req.PendingOnly)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OK(c, gin.H{"list": list})
}

// ListOverdue 逾期分配（读取时按当前 UTC 时间计算）
// GET /api/v1/assignments/overdue
func (h *AssignmentHandler) ListOverdue(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	var req dto.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, codeBadRequest, "参数校验失败")
		return
	}

	list, total, err := h.workflowSvc.ListOverdueAssignments(c.Request.Context(), actor, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}
