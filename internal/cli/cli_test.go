package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-query/config"
)

func testConfigFunc(t *testing.T) ConfigFunc {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{
			Driver:       config.DriverSQLite,
			Path:         filepath.Join(dir, "audit.db"),
			MaxOpenConns: 32,
			MaxIdleConns: 32,
		},
		Payload:       config.PayloadConfig{File: filepath.Join(dir, "payloads.jsonl"), Mmap: true},
		Query:         config.QueryConfig{Workers: 2, QueueSize: 16, MaxPageSize: 100},
		CursorCache:   config.CursorCacheConfig{Backend: config.CursorCacheMemory, MaxSize: 100, TTL: time.Minute},
		Observability: config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"},
	}
	return func(context.Context) (*config.Config, error) { return cfg, nil }
}

func execute(t *testing.T, loadConfig ConfigFunc, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(loadConfig)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedAndQuery(t *testing.T) {
	loadConfig := testConfigFunc(t)

	out, err := execute(t, loadConfig, "seed", "--rows", "300", "--batch-size", "100", "--seed", "5")
	require.NoError(t, err)
	var seeded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &seeded))
	assert.EqualValues(t, 300, seeded["rows"])
	assert.Equal(t, false, seeded["skipped"])

	out, err = execute(t, loadConfig, "seed", "--rows", "300")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &seeded))
	assert.Equal(t, true, seeded["skipped"])

	now := time.Now().Unix()
	from := strconv.FormatInt(now-31*24*3600, 10)
	to := strconv.FormatInt(now+60, 10)

	out, err = execute(t, loadConfig, "query", "--from", from, "--to", to, "--page", "2", "--page-size", "25")
	require.NoError(t, err)
	var page struct {
		Count  int `json:"count"`
		Events []struct {
			ID        int64 `json:"id"`
			CreatedAt int64 `json:"created_at"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, 25, page.Count)
	for i := 1; i < len(page.Events); i++ {
		prev, cur := page.Events[i-1], page.Events[i]
		assert.True(t, prev.CreatedAt > cur.CreatedAt || (prev.CreatedAt == cur.CreatedAt && prev.ID > cur.ID))
	}

	out, err = execute(t, loadConfig, "query", "--from", from, "--to", to, "--action", "LOGIN", "--page-size", "100")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Greater(t, page.Count, 0)

	_, err = execute(t, loadConfig, "query", "--from", to, "--to", from)
	assert.Error(t, err)

	_, err = execute(t, loadConfig, "query", "--to", to)
	assert.Error(t, err, "--from is required")
}

func TestVerify(t *testing.T) {
	loadConfig := testConfigFunc(t)
	_, err := execute(t, loadConfig, "seed", "--rows", "500", "--batch-size", "250")
	require.NoError(t, err)

	out, err := execute(t, loadConfig, "verify", "--count", "40", "--concurrency", "3", "--seed", "9")
	require.NoError(t, err)

	var report struct {
		Checked    int   `json:"checked"`
		Mismatches []any `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 40, report.Checked)
	assert.Empty(t, report.Mismatches)
}

func TestBench(t *testing.T) {
	loadConfig := testConfigFunc(t)
	_, err := execute(t, loadConfig, "seed", "--rows", "200")
	require.NoError(t, err)

	out, err := execute(t, loadConfig, "bench", "--warmup", "5", "--total", "40", "--concurrency", "4")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.EqualValues(t, 40, report["count"])
	assert.EqualValues(t, 0, report["errors"])
	assert.NotEmpty(t, report["run_id"])
}

func TestBenchModes(t *testing.T) {
	loadConfig := testConfigFunc(t)
	_, err := execute(t, loadConfig, "seed", "--rows", "300")
	require.NoError(t, err)

	t.Run("naive", func(t *testing.T) {
		out, err := execute(t, loadConfig, "bench", "--mode", "naive", "--warmup", "2", "--total", "30", "--concurrency", "3")
		require.NoError(t, err)

		var report map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.EqualValues(t, 30, report["count"])
		assert.EqualValues(t, 0, report["errors"])
	})

	t.Run("compare", func(t *testing.T) {
		out, err := execute(t, loadConfig, "bench", "--mode", "compare", "--warmup", "2", "--total", "30", "--concurrency", "3")
		if err != nil {
			// Timing on a small dataset is not a reliable gate
			assert.ErrorIs(t, err, ErrNoImprovement)
		}

		var comparison struct {
			Baseline  map[string]any `json:"baseline"`
			Candidate map[string]any `json:"candidate"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &comparison))
		assert.EqualValues(t, 30, comparison.Baseline["count"])
		assert.EqualValues(t, 0, comparison.Baseline["errors"])
		assert.EqualValues(t, 30, comparison.Candidate["count"])
		assert.EqualValues(t, 0, comparison.Candidate["errors"])
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := execute(t, loadConfig, "bench", "--mode", "fast")
		assert.ErrorContains(t, err, `unknown --mode "fast"`)
	})
}

func TestVerifyRaisesConnectionLimit(t *testing.T) {
	base := testConfigFunc(t)
	cfg, err := base(context.Background())
	require.NoError(t, err)
	cfg.Database.MaxOpenConns = cfg.Query.Workers + config.ReservedConns
	loadConfig := func(context.Context) (*config.Config, error) { return cfg, nil }

	_, err = execute(t, loadConfig, "seed", "--rows", "200")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	root := NewRoot(loadConfig)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"verify", "--count", "24", "--concurrency", "6"})
	require.NoError(t, root.ExecuteContext(ctx))

	assert.Equal(t, cfg.Query.Workers+6+config.ReservedConns, cfg.Database.MaxOpenConns)
}

func TestQueryWithoutDataset(t *testing.T) {
	_, err := execute(t, testConfigFunc(t), "query", "--from", "0", "--to", "10")
	assert.Error(t, err)
}
