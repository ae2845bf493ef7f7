package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/Choi-Seunghwan/IdP-server/internal/adapter/cache"
	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/http/handler"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

// Stores is the persistence layer selected by configuration.
type Stores struct {
	Users      repository.UserRepository
	Refresh    repository.RefreshTokenRepository
	Codes      repository.AuthorizationCodeRepository
	Clients    repository.ClientRepository
	Social     repository.SocialAccountRepository
	Ephemeral  repository.EphemeralStore
	CodePurger repository.ExpiredCodePurger
	Checks     map[string]handler.HealthCheck
}

// NewStores connects the configured backends and registers their shutdown on lc.
func NewStores(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Stores, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	stores := Stores{Checks: map[string]handler.HealthCheck{}}

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		p, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			return Stores{}, err
		}
		pool = p
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			pool.Close()
			return nil
		}})
		stores.Checks["postgres"] = pool.Ping
	}

	var rdb redis.UniversalClient
	if cfg.UsesRedis() {
		c, err := connectRedis(ctx, cfg, logger)
		if err != nil {
			return Stores{}, err
		}
		rdb = c
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			return rdb.Close()
		}})
		stores.Checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}

	switch cfg.Storage {
	case config.StoragePostgres:
		stores.Users = repository.NewPostgresUserRepo(pool)
		stores.Refresh = repository.NewPostgresRefreshTokenRepo(pool)
		stores.Clients = repository.NewPostgresClientRepo(pool)
		stores.Social = repository.NewPostgresSocialAccountRepo(pool)
	default:
		logger.Warn("using in-memory storage; data is lost on restart")
		stores.Users = repository.NewMemoryUserRepo()
		stores.Refresh = repository.NewMemoryRefreshTokenRepo()
		stores.Clients = repository.NewMemoryClientRepo()
		stores.Social = repository.NewMemorySocialAccountRepo()
	}

	switch cfg.AuthCodeStore {
	case config.StorageRedis:
		stores.Codes = cacheadapter.NewRedisCodeStore(rdb)
	case config.StoragePostgres:
		codes := repository.NewPostgresCodeRepo(pool)
		stores.Codes, stores.CodePurger = codes, codes
	default:
		codes := repository.NewMemoryCodeRepo()
		stores.Codes, stores.CodePurger = codes, codes
	}

	if rdb != nil {
		stores.Ephemeral = cacheadapter.NewRedisEphemeralStore(rdb)
	} else {
		stores.Ephemeral = repository.NewMemoryEphemeralStore()
	}

	logger.Info("stores ready",
		zap.String("storage", cfg.Storage),
		zap.String("auth_code_store", cfg.AuthCodeStore),
		zap.Bool("redis", rdb != nil),
	)
	return stores, nil
}

func retryOptions(cfg config.Config, logger *zap.Logger, target string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.ConnectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("connection attempt failed", zap.String("target", target), zap.Error(err), zap.Duration("retry_in", next))
		}),
	}
}

func connectPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, retryOptions(cfg, logger, "postgres")...)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if cfg.AutoMigrate {
		if _, err := pool.Exec(ctx, repository.Schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		logger.Info("database schema applied")
	}
	return pool, nil
}

func connectRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	}, retryOptions(cfg, logger, "redis")...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
