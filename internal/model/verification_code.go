package model

import "time"

// 验证码用途
const (
	VerificationPurposeRegister      = "register"
	VerificationPurposePasswordReset = "password_reset"
)

// VerificationCode 验证码 — 对应 verification_codes
// (email, purpose) 唯一：重新签发时原地覆盖，不存在"先删后插"的窗口
type VerificationCode struct {
	VerificationCodeID string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"verification_code_id"`
	Email              string     `gorm:"type:varchar(255);not null"                     json:"email"`
	Purpose            string     `gorm:"type:varchar(30);not null"                      json:"purpose"`
	CodeHash           string     `gorm:"type:varchar(255);not null"                     json:"-"`
	ExpiresAt          time.Time  `gorm:"not null"                                       json:"expires_at"`
	Attempts           int        `gorm:"not null;default:0"                             json:"attempts"`
	ConsumedAt         *time.Time `json:"consumed_at,omitempty"`
	CreatedAt          time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"updated_at"`
}

// TableName 指定表名
func (VerificationCode) TableName() string { return "verification_codes" }
