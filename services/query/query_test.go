package query

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-query/config"
	"github.com/upb/audit-query/internal/observability"
	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"github.com/upb/audit-query/repositories/blob"
	"github.com/upb/audit-query/repositories/sqlstore"
	"go.uber.org/zap"
)

// testEnv is a SQLite metadata store plus a payload file holding one
// document per row
type testEnv struct {
	db       *sqlstore.DB
	pool     *sqlstore.HandlePool
	index    repositories.EventIndex
	payloads repositories.PayloadReader
	metrics  *observability.Metrics
	blobPath string
	events   []*models.AuditEvent
}

func newTestEnv(t *testing.T, events []*models.AuditEvent) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlstore.NewDB(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(dir, "audit.db"),
		MaxOpenConns: 32,
		MaxIdleConns: 32,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(ctx))

	blobPath := filepath.Join(dir, "payloads.jsonl")
	w, err := blob.Create(blobPath)
	require.NoError(t, err)
	for i, e := range events {
		if e.PayloadLen != 0 {
			continue // caller placed the range explicitly
		}
		doc := map[string]any{
			"seq":   i,
			"actor": e.ActorID,
			"diff":  map[string]any{"status": []string{"old", "new"}},
			"big":   int64(9007199254740993),
		}
		e.PayloadOffset, e.PayloadLen, err = w.Append(doc)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	factory := sqlstore.NewRepositoryFactoryFromDB(db, zap.NewNop())
	if len(events) > 0 {
		require.NoError(t, factory.NewRepositories().Writer.InsertBatch(ctx, events))
	}

	payloads, err := blob.Open(blobPath, true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = payloads.Close() })

	pool := factory.NewHandlePool()
	t.Cleanup(func() { _ = pool.Close() })

	return &testEnv{
		db:       db,
		pool:     pool,
		index:    factory.NewRepositories().Events,
		payloads: payloads,
		metrics:  observability.NewMetricsWithRegistry(prometheus.NewRegistry()),
		blobPath: blobPath,
		events:   events,
	}
}

func (e *testEnv) service(t *testing.T, cache CursorCache, cfg Config) *Service {
	t.Helper()
	return NewService(e.pool, e.index, e.payloads, cache, e.metrics, zap.NewNop(), cfg)
}

func (e *testEnv) started(t *testing.T, cache CursorCache, cfg Config) *Service {
	t.Helper()
	svc := e.service(t, cache, cfg)
	require.NoError(t, svc.Start())
	t.Cleanup(func() { _ = svc.Stop(5 * time.Second) })
	return svc
}

// expected is the reference result: filter in memory, sort, slice
func (e *testEnv) expected(q models.Query) []int64 {
	f := q.Filter()
	var rows []*models.AuditEvent
	for _, ev := range e.events {
		if f.Matches(ev) {
			rows = append(rows, ev)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SortKey().Before(rows[j].SortKey()) })

	start := q.Offset()
	if start >= len(rows) {
		return []int64{}
	}
	end := start + q.PageSize
	if end > len(rows) {
		end = len(rows)
	}
	ids := make([]int64, 0, end-start)
	for _, r := range rows[start:end] {
		ids = append(ids, r.ID)
	}
	return ids
}

// rawPayload decodes a row's payload straight from the file
func (e *testEnv) rawPayload(t *testing.T, id int64) any {
	t.Helper()
	data, err := os.ReadFile(e.blobPath)
	require.NoError(t, err)
	for _, ev := range e.events {
		if ev.ID != id {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(data[ev.PayloadOffset : ev.PayloadOffset+ev.PayloadLen]))
		dec.UseNumber()
		var v any
		require.NoError(t, dec.Decode(&v))
		return v
	}
	t.Fatalf("no event with id %d", id)
	return nil
}

// fixtureEvents builds n rows with many created_at collisions
func fixtureEvents(n int) []*models.AuditEvent {
	actions := []string{"LOGIN", "UPDATE", "CREATE", "DELETE"}
	events := make([]*models.AuditEvent, n)
	for i := 0; i < n; i++ {
		events[i] = &models.AuditEvent{
			CreatedAt:    int64(1000 + (i*13)%60),
			ActorID:      int64(1 + i%3),
			Action:       actions[i%len(actions)],
			ResourceType: "ORDER",
			ResourceID:   "ORDER-" + string(rune('A'+i%26)),
		}
	}
	return events
}

func pageIDs(p *models.Page) []int64 {
	ids := make([]int64, 0, len(p.Events))
	for _, e := range p.Events {
		ids = append(ids, e.ID)
	}
	return ids
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }
