package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/api/handler"
	"github.com/maleckot/umrec-sub006/internal/api/middleware"
	"github.com/maleckot/umrec-sub006/internal/service"
	"github.com/maleckot/umrec-sub006/pkg/jwt"
	"github.com/maleckot/umrec-sub006/pkg/redis"
)

// maxBodyBytes 请求体上限（只接收 JSON 元数据，文件由上传服务处理）
const maxBodyBytes = 1 << 20

// office 伦理办公室角色
var office = []string{service.RoleStaff, service.RoleSecretariat, service.RoleAdmin}

// Setup 初始化并返回 Gin 路由引擎
// rdb 为 nil 时 Token 黑名单与限流降级为放行
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	var (
		blacklist middleware.TokenChecker
		limiter   middleware.RateLimiter
	)
	if rdb != nil {
		blacklist = rdb
		limiter = rdb
	}
	limit := middleware.RateLimit(limiter, cfg.Server.RateLimit.Limit, cfg.Server.RateLimit.Window)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 验证码（无需认证，按 IP 限流）
		codes := v1.Group("/auth/verification-codes", limit)
		{
			codes.POST("", h.Auth.IssueVerificationCode)
			codes.POST("/verify", h.Auth.VerifyCode)
		}

		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, blacklist, logger))
		{
			authorized.GET("/auth/me", h.Auth.Me)
			authorized.POST("/auth/logout", h.Auth.Logout)

			// 提交与状态迁移
			submissions := authorized.Group("/submissions")
			{
				submissions.GET("", h.Submission.ListSubmissions)
				submissions.GET("/:id", h.Submission.GetSubmission)
				submissions.POST("", limit, middleware.RoleAuth(service.RoleResearcher), h.Submission.CreateSubmission)
				submissions.POST("/:id/classify", limit, middleware.RoleAuth(service.RoleStaff, service.RoleSecretariat), h.Submission.ClassifySubmission)
				submissions.POST("/:id/reviewer-proposals", middleware.RoleAuth(office...), h.Submission.ProposeReviewers)
				submissions.POST("/:id/assignments", limit, middleware.RoleAuth(office...), h.Submission.CommitAssignment)
				submissions.GET("/:id/assignments", middleware.RoleAuth(office...), h.Assignment.ListBySubmission)
				submissions.POST("/:id/reviews", limit, h.Submission.RecordReview) // 审查人本人或工作人员代录（Service 层鉴权）
				submissions.POST("/:id/revision-request", limit, middleware.RoleAuth(service.RoleStaff, service.RoleSecretariat), h.Submission.RequestRevision)
				submissions.POST("/:id/resubmission", limit, middleware.RoleAuth(service.RoleResearcher), h.Submission.Resubmit)
				submissions.POST("/:id/release", limit, middleware.RoleAuth(service.RoleStaff, service.RoleSecretariat), h.Submission.ReleaseDocuments)
				submissions.POST("/:id/reject", limit, middleware.RoleAuth(service.RoleAdmin), h.Submission.RejectSubmission)

				// 冲突声明：审查人本人或工作人员；改派仅工作人员
				submissions.POST("/:id/assignments/:reviewer_id/conflict", limit, h.Assignment.DeclareConflict)
				submissions.POST("/:id/assignments/:reviewer_id/reassign", limit, middleware.RoleAuth(office...), h.Assignment.ReassignReviewer)
			}

			// 审查人视角
			reviewers := authorized.Group("/reviewers")
			{
				reviewers.GET("/me/assignments", h.Assignment.ListMine)
				reviewers.GET("/:id/assignments", h.Assignment.ListByReviewer)
				reviewers.GET("/:id/calendar.ics", h.Calendar.ReviewerCalendar)
			}

			authorized.GET("/assignments/overdue", middleware.RoleAuth(office...), h.Assignment.ListOverdue)

			// 站内通知
			notifications := authorized.Group("/notifications")
			{
				notifications.GET("", h.Notification.List)
				notifications.PUT("/:id/read", h.Notification.MarkRead)
			}
		}
	}

	return r
}
