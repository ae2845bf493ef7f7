package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/http/handler"
	httpmiddleware "github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
	"github.com/Choi-Seunghwan/IdP-server/internal/metrics"
)

// Handlers groups the route handlers mounted by NewRouter.
type Handlers struct {
	Auth   *handler.AuthHandler
	Social *handler.SocialHandler
	OAuth2 *handler.OAuth2Handler
	Admin  *handler.AdminHandler
	Health gin.HandlerFunc
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, h Handlers, authMiddleware *httpmiddleware.Auth, rateLimiter *httpmiddleware.RateLimiter, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	if m != nil {
		r.Use(m.Middleware())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpmiddleware.CORS(cfg))
	r.Use(rateLimiter.Handler())

	requireUser := authMiddleware.ValidateJWT

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Auth.Login)
		authGroup.POST("/refresh", h.Auth.Refresh)
		authGroup.POST("/logout", h.Auth.Logout)
		authGroup.POST("/logout-all", requireUser, h.Auth.LogoutAll)
		authGroup.POST("/register", h.Auth.Register)
		authGroup.GET("/me", requireUser, h.Auth.Me)
	}

	socialGroup := r.Group("/social")
	{
		socialGroup.GET("/:provider/login", h.Social.Login)
		socialGroup.GET("/:provider/callback", h.Social.Callback)
		socialGroup.POST("/exchange", h.Social.Exchange)
		socialGroup.POST("/connect", requireUser, h.Social.Connect)
		socialGroup.GET("/accounts", requireUser, h.Social.Accounts)
		socialGroup.DELETE("/accounts/:id", requireUser, h.Social.Disconnect)
	}

	oauth2 := r.Group("/oauth2")
	{
		oauth2.GET("/authorize", requireUser, h.OAuth2.Authorize)
		oauth2.POST("/token", h.OAuth2.Token)
		oauth2.GET("/userinfo", h.OAuth2.UserInfo)
		oauth2.GET("/jwks", h.OAuth2.JWKS)
	}

	r.GET("/.well-known/openid-configuration", h.OAuth2.OpenIDConfig)
	r.GET("/.well-known/jwks.json", h.OAuth2.JWKS)

	if h.Admin != nil {
		admin := r.Group("/admin", httpmiddleware.AdminKey(cfg.AdminAPIKey))
		admin.POST("/clients", h.Admin.CreateClient)
	}

	health := h.Health
	if health == nil {
		health = handler.Health(nil)
	}
	r.GET("/health", health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "route not found"})
	})

	return r
}
