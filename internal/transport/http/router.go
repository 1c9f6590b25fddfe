package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/auth"
	"meru/backend/internal/config"
	"meru/backend/internal/health"
	"meru/backend/internal/middleware"
	"meru/backend/internal/monitoring"
	"meru/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	AccountService *service.AccountService
	InviteService  *service.InviteService
	DomainService  *service.DomainService
	AliasService   *service.AliasService
	Sessions       *auth.SessionManager
	LoginLimiter   *middleware.LoginRateLimiter // 为 nil 时不限流
	Health         *health.HealthChecker
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	router := gin.New()
	router.HandleMethodNotAllowed = true
	// 客户端 IP 参与会话绑定，只信任显式配置的代理
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, err
	}

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))

	corsConfig := gincors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	router.NoRoute(NotFound)
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, Response{
			Code: http.StatusMethodNotAllowed,
			Msg:  "请求方法不允许",
		})
	})

	// 运维接口
	if deps.Health != nil {
		router.GET("/health", gin.WrapF(deps.Health.ReadyEndpoint))
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	sessionAuth := middleware.NewSessionAuth(deps.Sessions, cfg.Session.CookieName, log)
	accountHandler := NewAccountHandler(deps.AccountService, log)
	inviteHandler := NewInviteHandler(deps.InviteService, log)
	domainHandler := NewDomainHandler(deps.DomainService, log)
	aliasHandler := NewAliasHandler(deps.AliasService, log)
	sessionHandler := NewSessionHandler(deps.Sessions, cfg.Session.CookieName, cfg.Session.CookieSecure, log)

	// 登录与改密都会校验口令，共用按 IP 的限流
	withLoginLimit := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if deps.LoginLimiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{deps.LoginLimiter.Middleware(), h}
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.ValidateContentType("application/json"))
	{
		v1.POST("/account", accountHandler.Create)
		v1.POST("/account/password", withLoginLimit(accountHandler.ChangePassword)...)
		v1.POST("/invite", inviteHandler.Issue)
		v1.GET("/domains/:id", domainHandler.Get)

		v1.POST("/session", withLoginLimit(sessionHandler.Login)...)

		authed := v1.Group("")
		authed.Use(sessionAuth.LoadSession())
		{
			authed.GET("/session", sessionHandler.Validate)
			authed.DELETE("/session", sessionHandler.Logout)
			authed.GET("/me", sessionAuth.RequireAuth(), sessionHandler.Me)
		}

		admin := v1.Group("/admin")
		admin.Use(sessionAuth.LoadSession(), sessionAuth.RequireAdmin())
		{
			admin.GET("/domains", domainHandler.List)
			admin.POST("/domains", domainHandler.Create)
			admin.POST("/aliases", aliasHandler.Create)
		}
	}

	return router, nil
}
