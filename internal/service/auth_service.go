package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/dto"
	"github.com/maleckot/umrec-sub006/internal/model"
	"github.com/maleckot/umrec-sub006/internal/notify"
	"github.com/maleckot/umrec-sub006/internal/repository"
	pkgerrors "github.com/maleckot/umrec-sub006/pkg/errors"
	"github.com/maleckot/umrec-sub006/pkg/jwt"
)

// TokenBlacklist 令牌黑名单（由 pkg/redis.Client 实现）
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// AuthService 认证辅助业务接口
// 会话与登录由外部身份系统负责；本服务只处理登出与邮箱验证码
type AuthService interface {
	Logout(ctx context.Context, claims *jwt.Claims) error
	IssueVerificationCode(ctx context.Context, req *dto.IssueVerificationCodeRequest) (*dto.IssueVerificationCodeResponse, error)
	VerifyCode(ctx context.Context, req *dto.VerifyCodeRequest) error
}

type authService struct {
	cfg       *config.VerificationConfig
	repo      *repository.Repository
	blacklist TokenBlacklist
	notifier  Notifier
	now       Clock
	logger    *zap.Logger
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(
	cfg *config.VerificationConfig,
	repo *repository.Repository,
	blacklist TokenBlacklist,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
) AuthService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &authService{
		cfg:       cfg,
		repo:      repo,
		blacklist: blacklist,
		notifier:  notifier,
		now:       clock,
		logger:    logger,
	}
}

func (s *authService) Logout(ctx context.Context, claims *jwt.Claims) error {
	if s.blacklist == nil || claims == nil || claims.ID == "" {
		return nil
	}
	if err := s.blacklist.BlacklistToken(ctx, claims.ID, jwt.RemainingTTL(claims)); err != nil {
		s.logger.Error("令牌加入黑名单失败", zap.String("user_id", claims.UserID), zap.Error(err))
		return err
	}
	return nil
}

// ── 验证码 ──────────────────────────────────────────────────
//
// 每个 (email, purpose) 只有一条记录，重新签发时原地覆盖；
// 过期判断统一使用 UTC；明文验证码只进入邮件任务，库中仅保存 bcrypt 哈希。
// ─────────────────────────────────────────────────────────────

const (
	defaultCodeLength  = 6
	defaultMaxAttempts = 5
	defaultCodeTTL     = 10 * time.Minute
)

func (s *authService) codeLength() int {
	if s.cfg.CodeLength < 4 {
		return defaultCodeLength
	}
	return s.cfg.CodeLength
}

func (s *authService) maxAttempts() int {
	if s.cfg.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return s.cfg.MaxAttempts
}

func (s *authService) codeTTL() time.Duration {
	if s.cfg.CodeTTL <= 0 {
		return defaultCodeTTL
	}
	return s.cfg.CodeTTL
}

// generateNumericCode 生成定长数字验证码
func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *authService) IssueVerificationCode(ctx context.Context, req *dto.IssueVerificationCodeRequest) (*dto.IssueVerificationCodeResponse, error) {
	email := normalizeEmail(req.Email)

	// 1. 生成验证码与哈希
	code, err := generateNumericCode(s.codeLength())
	if err != nil {
		s.logger.Error("生成验证码失败", zap.Error(err))
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("验证码哈希失败", zap.Error(err))
		return nil, err
	}

	// 2. 原地覆盖
	expiresAt := s.now().UTC().Add(s.codeTTL())
	record := &model.VerificationCode{
		Email:     email,
		Purpose:   req.Purpose,
		CodeHash:  string(hash),
		ExpiresAt: expiresAt,
	}
	if err := s.repo.VerificationCode.Upsert(ctx, record); err != nil {
		s.logger.Error("保存验证码失败", zap.String("email", email), zap.Error(err))
		return nil, err
	}

	// 3. 投递邮件任务
	s.notifier.VerificationCodeIssued(ctx, notify.VerificationCodePayload{
		Email:     email,
		Purpose:   req.Purpose,
		Code:      code,
		ExpiresAt: expiresAt,
	})

	return &dto.IssueVerificationCodeResponse{
		Email:     email,
		Purpose:   req.Purpose,
		ExpiresAt: dto.FormatTime(expiresAt),
	}, nil
}

func (s *authService) VerifyCode(ctx context.Context, req *dto.VerifyCodeRequest) error {
	email := normalizeEmail(req.Email)

	record, err := s.repo.VerificationCode.Get(ctx, email, req.Purpose)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCodeNotFound
		}
		s.logger.Error("查询验证码失败", zap.String("email", email), zap.Error(err))
		return err
	}

	if record.ConsumedAt != nil {
		return ErrCodeConsumed
	}
	if !s.now().UTC().Before(record.ExpiresAt.UTC()) {
		return ErrCodeExpired
	}
	if record.Attempts >= s.maxAttempts() {
		return ErrCodeAttemptsExceeded
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(req.Code)); err != nil {
		if incErr := s.repo.VerificationCode.IncrementAttempts(ctx, record.VerificationCodeID); incErr != nil {
			s.logger.Error("更新验证码尝试次数失败", zap.Error(incErr))
		}
		return ErrCodeMismatch
	}

	if err := s.repo.VerificationCode.Consume(ctx, record.VerificationCodeID, s.now()); err != nil {
		// 并发校验时只有一方能消费成功
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			return ErrCodeConsumed
		}
		s.logger.Error("消费验证码失败", zap.Error(err))
		return err
	}
	return nil
}
