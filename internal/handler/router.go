package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/internal/middleware"
	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/service"
	"github.com/noah-isme/esg-compliance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/esg-compliance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/esg-compliance-api/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler mounted by NewRouter.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Checklists    *ChecklistHandler
	Files         *FileHandler
	Notifications *NotificationHandler
	Audit         *AuditHandler
	Metrics       *MetricsHandler
}

// RouterConfig carries the cross-cutting dependencies of the HTTP stack.
type RouterConfig struct {
	APIPrefix string
	Auth      middleware.TokenAuthenticator
	Metrics   *service.MetricsService
	Logger    *zap.Logger
	CORS      corsmiddleware.Config
}

// NewRouter builds the gin engine. The API is mounted under APIPrefix, /api/v1 by default.
func NewRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(cfg.Metrics))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	authn := middleware.JWT(cfg.Auth)
	admin := middleware.RequireRoles(models.RoleAdmin)
	reviewers := middleware.RequireRoles(models.RoleAdmin, models.RoleReviewer)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", authn, h.Auth.Logout)
	auth.POST("/change-password", authn, h.Auth.ChangePassword)
	auth.GET("/me", authn, h.Auth.Me)

	// Signed links authenticate through their token.
	api.GET("/files/download/:token", h.Files.Download)

	secured := api.Group("")
	secured.Use(authn)

	users := secured.Group("/users", admin)
	users.GET("", h.Users.List)
	users.GET("/:id", h.Users.Get)
	users.PATCH("/:id", h.Users.Update)
	users.DELETE("/:id", h.Users.Deactivate)

	checklists := secured.Group("/checklists")
	checklists.GET("", h.Checklists.List)
	checklists.GET("/:id", h.Checklists.Get)
	checklists.GET("/:id/summary", h.Checklists.Summary)
	checklists.POST("", admin, h.Checklists.Create)
	checklists.PUT("/:id", admin, h.Checklists.Update)
	checklists.DELETE("/:id", admin, h.Checklists.Delete)
	checklists.POST("/:id/items", admin, h.Checklists.AddItem)
	checklists.PUT("/:id/items/:itemId", admin, h.Checklists.UpdateItem)
	checklists.DELETE("/:id/items/:itemId", admin, h.Checklists.DeleteItem)
	checklists.POST("/:id/rescore", reviewers, h.Checklists.RescoreAll)

	files := secured.Group("/files")
	files.POST("", h.Files.Upload)
	files.GET("", h.Files.List)
	files.GET("/:id", h.Files.Get)
	files.GET("/:id/download-link", h.Files.DownloadLink)
	files.PATCH("/:id/status", reviewers, h.Files.UpdateStatus)
	files.GET("/:id/comments", h.Files.ListComments)
	files.POST("/:id/comments", h.Files.AddComment)
	files.GET("/:id/analysis", h.Files.Analysis)
	files.POST("/:id/rescore", h.Files.Rescore)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.Notifications.List)
	notifications.GET("/unread-count", h.Notifications.UnreadCount)
	notifications.POST("/read-all", h.Notifications.MarkAllRead)
	notifications.POST("/:id/read", h.Notifications.MarkRead)

	audit := secured.Group("/audit-logs", admin)
	audit.GET("", h.Audit.List)
	audit.GET("/export", h.Audit.Export)

	secured.GET("/metrics/snapshot", admin, h.Metrics.Snapshot)

	return r
}
