package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/audit-query/models"
	"go.uber.org/zap"
)

func TestEventWriter_InsertBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	w := NewEventWriter(db, zap.NewNop())

	events := fixtureEvents(5)
	require.NoError(t, w.InsertBatch(ctx, events))

	for i, e := range events {
		assert.Equal(t, int64(i+1), e.ID)
	}

	total, err := w.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	require.NoError(t, w.InsertBatch(ctx, nil))
	total, err = w.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestEventWriter_PostgresReturning(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := WrapDB(sqlDB, Postgres, zap.NewNop())
	w := NewEventWriter(db, zap.NewNop())

	event := &models.AuditEvent{
		CreatedAt: 100, ActorID: 1, Action: "LOGIN",
		ResourceType: "USER", ResourceID: "USER-1", PayloadOffset: 0, PayloadLen: 12,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audit_events .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)\s+RETURNING id`).
		WithArgs(int64(100), int64(1), "LOGIN", "USER", "USER-1", int64(0), int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))
	mock.ExpectCommit()

	require.NoError(t, w.InsertBatch(context.Background(), []*models.AuditEvent{event}))
	assert.Equal(t, int64(41), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventWriter_RollbackOnError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := WrapDB(sqlDB, SQLite, zap.NewNop())
	w := NewEventWriter(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = w.InsertBatch(context.Background(), fixtureEvents(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
