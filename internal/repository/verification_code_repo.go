package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maleckot/umrec-sub006/internal/model"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
)

// VerificationCodeRepository 验证码访问接口
type VerificationCodeRepository interface {
	// Upsert 按 (email, purpose) 原地覆盖：重置哈希、过期时间、尝试次数与消费标记
	Upsert(ctx context.Context, code *model.VerificationCode) error
	Get(ctx context.Context, email, purpose string) (*model.VerificationCode, error)
	IncrementAttempts(ctx context.Context, id string) error
	// Consume 标记已使用；已被使用时返回 ErrOptimisticLock
	Consume(ctx context.Context, id string, at time.Time) error
}

type verificationCodeRepo struct {
	db *gorm.DB
}

func NewVerificationCodeRepo(db *gorm.DB) VerificationCodeRepository {
	return &verificationCodeRepo{db: db}
}

func (r *verificationCodeRepo) Upsert(ctx context.Context, code *model.VerificationCode) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}, {Name: "purpose"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"code_hash":   code.CodeHash,
				"expires_at":  code.ExpiresAt.UTC(),
				"attempts":    0,
				"consumed_at": nil,
				"updated_at":  time.Now().UTC(),
			}),
		}).
		Create(code).Error
}

func (r *verificationCodeRepo) Get(ctx context.Context, email, purpose string) (*model.VerificationCode, error) {
	var code model.VerificationCode
	err := r.db.WithContext(ctx).
		Where("email = ? AND purpose = ?", email, purpose).
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *verificationCodeRepo) IncrementAttempts(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.VerificationCode{}).
		Where("verification_code_id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *verificationCodeRepo) Consume(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.VerificationCode{}).
		Where("verification_code_id = ? AND consumed_at IS NULL", id).
		Update("consumed_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}
