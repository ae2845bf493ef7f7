package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	cacheadapter "github.com/Choi-Seunghwan/IdP-server/internal/adapter/cache"
	"github.com/Choi-Seunghwan/IdP-server/internal/app"
	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

func TestModuleGraphIsComplete(t *testing.T) {
	require.NoError(t, fx.ValidateApp(app.Module))
}

func TestMemoryStores(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{
		Storage:        config.StorageMemory,
		AuthCodeStore:  config.StorageMemory,
		ConnectTimeout: time.Second,
	}

	stores, err := app.NewStores(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart().RequireStop()

	require.IsType(t, &repository.MemoryUserRepo{}, stores.Users)
	require.IsType(t, &repository.MemoryCodeRepo{}, stores.Codes)
	require.IsType(t, &repository.MemoryEphemeralStore{}, stores.Ephemeral)
	require.NotNil(t, stores.CodePurger)
	require.Empty(t, stores.Checks)
}

func TestRedisCodeStoreSelection(t *testing.T) {
	mr := miniredis.RunT(t)
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{
		Storage:        config.StorageMemory,
		AuthCodeStore:  config.StorageRedis,
		RedisAddr:      mr.Addr(),
		ConnectTimeout: 2 * time.Second,
	}

	stores, err := app.NewStores(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart()

	require.IsType(t, &cacheadapter.RedisCodeStore{}, stores.Codes)
	require.IsType(t, &cacheadapter.RedisEphemeralStore{}, stores.Ephemeral)
	require.Nil(t, stores.CodePurger)
	require.Contains(t, stores.Checks, "redis")
	require.NoError(t, stores.Checks["redis"](context.Background()))

	lc.RequireStop()
}

func TestRedisUnavailable(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{
		Storage:        config.StorageMemory,
		AuthCodeStore:  config.StorageRedis,
		RedisAddr:      "127.0.0.1:1",
		ConnectTimeout: 300 * time.Millisecond,
	}

	_, err := app.NewStores(lc, cfg, zap.NewNop())
	require.Error(t, err)
}
