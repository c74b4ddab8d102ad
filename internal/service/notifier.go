package service

import (
	"context"

	"github.com/maleckot/umrec-sub006/internal/notify"
)

// Notifier 通知协作方。调用发生在事务提交之后，实现不得阻塞流程，也不返回错误。
type Notifier interface {
	ReviewerAssigned(ctx context.Context, payload notify.ReviewerAssignedPayload)
	RevisionRequested(ctx context.Context, payload notify.RevisionRequestedPayload)
	DocumentsReleased(ctx context.Context, payload notify.DocumentsReleasedPayload)
	VerificationCodeIssued(ctx context.Context, payload notify.VerificationCodePayload)
}

var (
	_ Notifier = (*notify.Producer)(nil)
	_ Notifier = notify.Nop{}
)
