package sqlstore

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/upb/audit-query/config"
	"github.com/upb/audit-query/models"
	"go.uber.org/zap"
)

// newTestDB opens a fresh SQLite store with the audit schema
func newTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "audit.db"),
		MaxOpenConns: 16,
		MaxIdleConns: 16,
	}
	db, err := NewDB(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.InitSchema(context.Background()))
	return db
}

// seedEvents inserts the rows and returns them with their assigned IDs
func seedEvents(t *testing.T, db *DB, events []*models.AuditEvent) []*models.AuditEvent {
	t.Helper()

	w := NewEventWriter(db, zap.NewNop())
	require.NoError(t, w.InsertBatch(context.Background(), events))
	return events
}

// sortedMatching is the in-memory reference: the filtered rows in sort order
func sortedMatching(events []*models.AuditEvent, filter models.Filter) []*models.AuditEvent {
	var out []*models.AuditEvent
	for _, e := range events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SortKey().Before(out[j].SortKey())
	})
	return out
}

// fixtureEvents builds n rows with many created_at collisions
func fixtureEvents(n int) []*models.AuditEvent {
	actions := []string{"LOGIN", "UPDATE", "CREATE", "DELETE"}
	events := make([]*models.AuditEvent, n)
	for i := 0; i < n; i++ {
		events[i] = &models.AuditEvent{
			CreatedAt:     int64(1000 + (i*7)%40),
			ActorID:       int64(1 + i%5),
			Action:        actions[i%len(actions)],
			ResourceType:  "ORDER",
			ResourceID:    "ORDER-1",
			PayloadOffset: int64(i * 10),
			PayloadLen:    10,
		}
	}
	return events
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }
