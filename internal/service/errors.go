package service

import (
	"errors"
	"fmt"

	"github.com/maleckot/umrec-sub006/internal/workflow"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// ── 审查流程业务错误 ──

// ErrInvalidTransition 非法状态迁移，具体信息见 *workflow.InvalidTransitionError
var ErrInvalidTransition = workflow.ErrInvalidTransition

var (
	ErrSubmissionNotFound = errors.New("提交不存在")
	ErrReviewerNotFound   = errors.New("审查人不存在")
	ErrAssignmentNotFound = errors.New("未找到该审查人在本轮的分配")
	ErrPermissionDenied   = errors.New("无权执行此操作")

	// ErrDuplicateAssignment 同一 (submission, reviewer) 已存在 pending 分配
	ErrDuplicateAssignment = errors.New("该审查人在此提交上已有待审分配")
	// ErrInsufficientReviewers 可选审查人不足（推荐结果中的警告，不是失败）
	ErrInsufficientReviewers = errors.New("可选审查人数量不足")
	// ErrNoReplacement 利益冲突或改派时找不到替换审查人
	ErrNoReplacement = errors.New("没有可替换的审查人")
	// ErrConcurrentModification 乐观锁 CAS 失败，可整体重试
	ErrConcurrentModification = fmt.Errorf("提交已被其他操作修改: %w", pkgerrors.ErrOptimisticLock)
	// ErrAssignmentNotPending 分配已完成或已退出，不能再操作
	ErrAssignmentNotPending = errors.New("该分配不处于待审状态")
)

// ── 守卫失败原因（包装在 *workflow.InvalidTransitionError 中返回） ──

var (
	ErrIncompleteClassification = errors.New("分类信息不完整：需要合法的审查类别与至少一个主题标签")
	ErrEmptyReviewerSet         = errors.New("审查人列表不能为空")
	ErrDuplicateReviewer        = errors.New("审查人列表存在重复")
	ErrReviewerUnavailable      = errors.New("审查人当前不可用")
	ErrSelfReview               = errors.New("审查人不能是提交者本人")
	ErrReviewerConflicted       = errors.New("审查人已对该提交声明利益冲突")
	ErrBelowMinimumPanel        = errors.New("审查人数量低于最小审查组规模")
	ErrReviewsOutstanding       = errors.New("仍有未完成的审查")
	ErrNoActiveAssignments      = errors.New("本轮没有有效的审查分配")
	ErrNoRevisionVerdict        = errors.New("没有审查人给出需要修订的意见")
	ErrRevisionVerdictPending   = errors.New("存在需要修订的审查意见，应发起修订请求")
	ErrMissingRevisedDocuments  = errors.New("缺少必需的修订文件")
	ErrAlreadyReleased          = errors.New("审查结果已发布")
)

// ── 验证码错误 ──

var (
	ErrCodeNotFound         = errors.New("验证码不存在，请重新获取")
	ErrCodeExpired          = errors.New("验证码已过期")
	ErrCodeConsumed         = errors.New("验证码已使用")
	ErrCodeMismatch         = errors.New("验证码错误")
	ErrCodeAttemptsExceeded = errors.New("验证码尝试次数过多，请重新获取")
)

// mapLockError 将仓储层的乐观锁冲突统一为 ErrConcurrentModification
func mapLockError(err error) error {
	if errors.Is(err, pkgerrors.ErrOptimisticLock) && !errors.Is(err, ErrConcurrentModification) {
		return ErrConcurrentModification
	}
	if errors.Is(err, pkgerrors.ErrDuplicateKey) {
		return ErrDuplicateAssignment
	}
	return err
}
