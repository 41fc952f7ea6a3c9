package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-query/app"
	"github.com/upb/audit-query/config"
	"github.com/upb/audit-query/services/seed"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	code := m.Run()

	os.Exit(code)
}

func TestInitLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "info")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "invalid")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            freePort(t),
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Driver:       config.DriverSQLite,
			Path:         filepath.Join(dir, "audit.db"),
			MaxOpenConns: 16,
			MaxIdleConns: 16,
		},
		Payload:       config.PayloadConfig{File: filepath.Join(dir, "payloads.jsonl"), Mmap: false},
		Query:         config.QueryConfig{Workers: 2, QueueSize: 4, MaxPageSize: 50},
		CursorCache:   config.CursorCacheConfig{Backend: config.CursorCacheMemory, MaxSize: 10, TTL: time.Minute},
		Observability: config.ObservabilityConfig{LogLevel: "error", LogFormat: "json", MetricsEnabled: true},
	}
}

func TestRun(t *testing.T) {
	t.Run("serves until the context is cancelled", func(t *testing.T) {
		cfg := testConfig(t)

		factory, err := app.OpenStore(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		_, err = seed.NewGenerator(factory.NewRepositories().Writer, zap.NewNop(), seed.Config{Rows: 20, Seed: 1}).
			Run(context.Background(), cfg.Payload.File)
		require.NoError(t, err)
		require.NoError(t, factory.Close())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, cfg, zaptest.NewLogger(t)) }()

		url := fmt.Sprintf("http://%s/healthz", cfg.Server.Address())
		require.Eventually(t, func() bool {
			resp, err := http.Get(url)
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 50*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("run did not return after cancellation")
		}
	})

	t.Run("fails without a payload file", func(t *testing.T) {
		err := run(context.Background(), testConfig(t), zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize dependencies")
	})
}
