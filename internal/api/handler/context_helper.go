package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/maleckot/umrec-sub006/internal/api/middleware"
	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/pkg/jwt"
	"github.com/maleckot/umrec-sub006/pkg/response"
)

// MustGetActor 从 Gin 上下文中取出调用者身份。
// JWT 中间件未注入 user_id/role 时写入 401 响应并返回 false，调用方应直接 return。
func MustGetActor(c *gin.Context) (service.Actor, bool) {
	userID := c.GetString(middleware.ContextUserID)
	role := c.GetString(middleware.ContextRole)
	if userID == "" || role == "" {
		response.Unauthorized(c, 10002, "未认证")
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, Role: role}, true
}

// MustGetClaims 从 Gin 上下文中取出已解析的令牌声明
func MustGetClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(middleware.ContextClaims)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	if !ok || claims == nil {
		response.Unauthorized(c, 10002, "未认证")
		return nil, false
	}
	return claims, true
}
