package service

import "time"

// 调用者角色
const (
	RoleResearcher  = "researcher"
	RoleStaff       = "staff"
	RoleSecretariat = "secretariat"
	RoleReviewer    = "reviewer"
	RoleAdmin       = "admin"
)

// Actor 调用者身份，由 API 层从已认证的令牌中取出后显式传入每个操作
type Actor struct {
	UserID string
	Role   string
}

// HasRole 是否属于给定角色之一
func (a Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// IsOffice 伦理办公室人员（工作人员、秘书处、管理员）
func (a Actor) IsOffice() bool {
	return a.HasRole(RoleStaff, RoleSecretariat, RoleAdmin)
}

func (a Actor) require(roles ...string) error {
	if a.UserID == "" || !a.HasRole(roles...) {
		return ErrPermissionDenied
	}
	return nil
}

// Clock 返回当前时间；所有截止日期与逾期判断都基于 UTC
type Clock func() time.Time

// SystemClock 系统时钟（UTC）
func SystemClock() time.Time { return time.Now().UTC() }
