package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	Submission         SubmissionRepository
	SubmissionDocument SubmissionDocumentRepository
	StatusHistory      StatusHistoryRepository
	Reviewer           ReviewerRepository
	Assignment         AssignmentRepository
	Notification       NotificationRepository
	VerificationCode   VerificationCodeRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:                 db,
		Submission:         NewSubmissionRepo(db),
		SubmissionDocument: NewSubmissionDocumentRepo(db),
		StatusHistory:      NewStatusHistoryRepo(db),
		Reviewer:           NewReviewerRepo(db),
		Assignment:         NewAssignmentRepo(db),
		Notification:       NewNotificationRepo(db),
		VerificationCode:   NewVerificationCodeRepo(db),
	}
}

// BeginTx 开启事务
// 单元测试中以字面量构造的 Repository 没有 db，此时返回 nil 事务，调用方需判空
func (r *Repository) BeginTx(ctx context.Context) (*gorm.DB, error) {
	if r.db == nil {
		return nil, nil
	}
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

// WithTx 返回绑定到事务的 Repository 副本；tx 为 nil 时返回自身
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

// ── 驱动错误映射 ──

const pgUniqueViolation = "23505"

// mapWriteError 将唯一约束冲突映射为 pkgerrors.ErrDuplicateKey，其余原样返回
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pkgerrors.ErrDuplicateKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pkgerrors.ErrDuplicateKey
	}
	return err
}
