// Package app assembles the identity provider from its components and hosts their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	oauthadapter "github.com/Choi-Seunghwan/IdP-server/internal/adapter/oauth"
	"github.com/Choi-Seunghwan/IdP-server/internal/bootstrap"
	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	httptransport "github.com/Choi-Seunghwan/IdP-server/internal/http"
	"github.com/Choi-Seunghwan/IdP-server/internal/http/handler"
	httpmiddleware "github.com/Choi-Seunghwan/IdP-server/internal/http/middleware"
	"github.com/Choi-Seunghwan/IdP-server/internal/ids"
	"github.com/Choi-Seunghwan/IdP-server/internal/jwt"
	"github.com/Choi-Seunghwan/IdP-server/internal/metrics"
	"github.com/Choi-Seunghwan/IdP-server/internal/server"
	"github.com/Choi-Seunghwan/IdP-server/internal/service"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/social"
	"github.com/Choi-Seunghwan/IdP-server/internal/service/sso"
	"github.com/Choi-Seunghwan/IdP-server/internal/telemetry"
)

// Module provides every component and starts the HTTP server.
var Module = fx.Options(
	fx.Provide(
		NewConfig,
		NewLogger,
		NewTelemetry,
		NewIDNode,
		metrics.New,
		jwt.LoadKeyProvider,
		NewCodec,
		NewStores,
		NewTokenIssuer,
		NewAuthService,
		NewClientService,
		NewSSOService,
		oauthadapter.NewRegistryFromConfig,
		NewProviderRegistry,
		NewSocialService,
		NewJanitor,
		NewRouter,
		server.NewHTTPServer,
	),
	fx.Invoke(useTelemetry, ensureAdmin, startJanitor, startHTTPServer),
)

// NewConfig loads configuration from the environment.
func NewConfig() (config.Config, error) {
	return config.Load()
}

// NewLogger builds the process logger and installs it as the zap global.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// NewTelemetry configures tracing and flushes it on stop.
func NewTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

// NewIDNode creates the snowflake generator for this instance.
func NewIDNode(cfg config.Config) (*ids.Node, error) {
	return ids.NewNode(cfg.NodeID)
}

// NewCodec builds the token codec from the loaded key pair.
func NewCodec(cfg config.Config, keys *jwt.KeyProvider) *jwt.Codec {
	return jwt.NewCodec(keys, cfg.Issuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

// NewTokenIssuer wires token issuance to the selected stores.
func NewTokenIssuer(codec *jwt.Codec, stores Stores, m *metrics.Metrics) *service.TokenIssuer {
	return service.NewTokenIssuer(codec, stores.Refresh, stores.Users, m)
}

// NewAuthService builds the first-party auth service.
func NewAuthService(stores Stores, issuer *service.TokenIssuer, logger *zap.Logger) *service.AuthService {
	return service.NewAuthService(stores.Users, stores.Refresh, issuer, logger)
}

// NewClientService builds the OAuth2 client registry.
func NewClientService(stores Stores, node *ids.Node, logger *zap.Logger) *service.ClientService {
	return service.NewClientService(stores.Clients, node, logger)
}

// NewSSOService builds the authorization server.
func NewSSOService(cfg config.Config, clients *service.ClientService, stores Stores, issuer *service.TokenIssuer, m *metrics.Metrics, logger *zap.Logger) *sso.Service {
	return sso.NewService(clients, stores.Codes, stores.Users, issuer, m, cfg.AuthCodeTTL, logger)
}

// NewProviderRegistry exposes the configured providers to the social service.
func NewProviderRegistry(r *oauthadapter.Registry) social.ProviderRegistry {
	return r
}

// NewSocialService builds social login orchestration.
func NewSocialService(cfg config.Config, providers social.ProviderRegistry, stores Stores, auth *service.AuthService, node *ids.Node, m *metrics.Metrics, logger *zap.Logger) *social.Service {
	return social.NewService(providers, stores.Ephemeral, stores.Users, stores.Social, auth, node, m, social.Options{
		StateTTL:         cfg.StateTTL,
		ExchangeTTL:      cfg.ExchangeCodeTTL,
		AllowedRedirects: cfg.SocialAllowedRedirects,
	}, logger)
}

// NewJanitor builds the expired token sweeper.
func NewJanitor(cfg config.Config, stores Stores, logger *zap.Logger) *service.TokenJanitor {
	return service.NewTokenJanitor(stores.Refresh, stores.CodePurger, cfg.TokenCleanupInterval, cfg.RevokedRetention, logger)
}

// NewRouter mounts every handler.
func NewRouter(
	cfg config.Config,
	logger *zap.Logger,
	auth *service.AuthService,
	clients *service.ClientService,
	ssoSvc *sso.Service,
	socialSvc *social.Service,
	stores Stores,
	m *metrics.Metrics,
) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	cookie := handler.CookieConfig{Secure: cfg.CookieSecure, MaxAge: int(cfg.AccessTokenTTL.Seconds())}
	handlers := httptransport.Handlers{
		Auth:   handler.NewAuthHandler(auth, cookie),
		Social: handler.NewSocialHandler(socialSvc, cookie),
		OAuth2: handler.NewOAuth2Handler(ssoSvc),
		Admin:  handler.NewAdminHandler(clients),
		Health: handler.Health(stores.Checks),
	}
	return httptransport.NewRouter(cfg, logger, handlers, httpmiddleware.NewAuth(auth), httpmiddleware.NewRateLimiter(cfg.RateLimitRPM), m)
}

func useTelemetry(*telemetry.Provider) {}

func ensureAdmin(lc fx.Lifecycle, cfg config.Config, auth *service.AuthService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return bootstrap.EnsureAdmin(ctx, cfg, auth, logger)
		},
	})
}

func startJanitor(lc fx.Lifecycle, janitor *service.TokenJanitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			janitor.Start()
			return nil
		},
		OnStop: janitor.Stop,
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := srv.Listen(addr)
			if err != nil {
				return err
			}
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				defer close(done)
				logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
				if err := srv.Serve(runCtx, ln); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
