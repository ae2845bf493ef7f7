package app

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Choi-Seunghwan/IdP-server/internal/config"
	"github.com/Choi-Seunghwan/IdP-server/internal/server"
)

func TestStartHTTPServerFailsWhenPortTaken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()
	port := strconv.Itoa(taken.Addr().(*net.TCPAddr).Port)

	lc := fxtest.NewLifecycle(t)
	startHTTPServer(lc, server.NewHTTPServer(gin.New()), config.Config{HTTPPort: port}, zap.NewNop())

	err = lc.Start(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "listen")
}

func TestStartHTTPServerStartsAndStops(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lc := fxtest.NewLifecycle(t)
	startHTTPServer(lc, server.NewHTTPServer(gin.New()), config.Config{HTTPPort: "0"}, zap.NewNop())

	lc.RequireStart().RequireStop()
}
