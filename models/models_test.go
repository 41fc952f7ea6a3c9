package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEvent_TableName(t *testing.T) {
	assert.Equal(t, "audit_events", AuditEvent{}.TableName())
}

func TestAuditEvent_Hydrate(t *testing.T) {
	row := &AuditEvent{
		ID:            9,
		CreatedAt:     1700000000,
		ActorID:       12,
		Action:        "EXPORT",
		ResourceType:  "INVOICE",
		ResourceID:    "INVOICE-77",
		PayloadOffset: 1024,
		PayloadLen:    300,
	}

	event := row.Hydrate(map[string]any{"note": "x"})

	assert.Equal(t, int64(9), event.ID)
	assert.Equal(t, "INVOICE-77", event.ResourceID)
	assert.Equal(t, map[string]any{"note": "x"}, event.Payload)
	assert.Equal(t, Cursor{CreatedAt: 1700000000, ID: 9}, row.SortKey())

	// Blob coordinates stay internal
	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload_offset")
	assert.NotContains(t, string(data), "payload_len")
}

func TestCursor_Before(t *testing.T) {
	tests := []struct {
		name string
		a, b Cursor
		want bool
	}{
		{"newer timestamp first", Cursor{CreatedAt: 20, ID: 1}, Cursor{CreatedAt: 10, ID: 5}, true},
		{"older timestamp later", Cursor{CreatedAt: 10, ID: 5}, Cursor{CreatedAt: 20, ID: 1}, false},
		{"tie broken by higher id", Cursor{CreatedAt: 10, ID: 6}, Cursor{CreatedAt: 10, ID: 5}, true},
		{"equal is not before", Cursor{CreatedAt: 10, ID: 5}, Cursor{CreatedAt: 10, ID: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Before(tt.b))
		})
	}
}

func TestParseCursor(t *testing.T) {
	c, err := ParseCursor("100:3")
	require.NoError(t, err)
	assert.Equal(t, Cursor{CreatedAt: 100, ID: 3}, c)

	round, err := ParseCursor(Cursor{CreatedAt: -4, ID: 1 << 40}.String())
	require.NoError(t, err)
	assert.Equal(t, Cursor{CreatedAt: -4, ID: 1 << 40}, round)

	for _, raw := range []string{"", "100", "x:3", "100:y"} {
		_, err := ParseCursor(raw)
		assert.Error(t, err, raw)
	}
}

func TestQuery_Offset(t *testing.T) {
	assert.Equal(t, 0, Query{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 40, Query{Page: 3, PageSize: 20}.Offset())
}

func TestFilter_Key(t *testing.T) {
	actor := int64(7)
	action := "UPDATE"

	assert.Equal(t, "1:2:*:*", Filter{FromTS: 1, ToTS: 2}.Key())
	assert.Equal(t, `1:2:7:"UPDATE"`, Filter{FromTS: 1, ToTS: 2, ActorID: &actor, Action: &action}.Key())

	// Quoting keeps a separator inside the action from colliding with another filter
	tricky := "A:*"
	assert.NotEqual(t, Filter{FromTS: 1, ToTS: 2, Action: &tricky}.Key(), Filter{FromTS: 1, ToTS: 2}.Key())
}

func TestFilter_Matches(t *testing.T) {
	actor := int64(7)
	action := "DELETE"
	row := &AuditEvent{CreatedAt: 50, ActorID: 7, Action: "DELETE"}

	assert.True(t, Filter{FromTS: 50, ToTS: 50}.Matches(row), "range is inclusive")
	assert.False(t, Filter{FromTS: 51, ToTS: 60}.Matches(row))
	assert.False(t, Filter{FromTS: 0, ToTS: 49}.Matches(row))
	assert.True(t, Filter{FromTS: 0, ToTS: 100, ActorID: &actor, Action: &action}.Matches(row))

	other := int64(8)
	assert.False(t, Filter{FromTS: 0, ToTS: 100, ActorID: &other}.Matches(row))
	create := "CREATE"
	assert.False(t, Filter{FromTS: 0, ToTS: 100, Action: &create}.Matches(row))
}

func TestNewPage(t *testing.T) {
	q := Query{FromTS: 0, ToTS: 10, Page: 1, PageSize: 5}

	empty := NewPage(q, nil)
	assert.Equal(t, 0, empty.Count)
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"events":[]`)

	page := NewPage(q, []Event{{ID: 1}, {ID: 2}})
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, q, page.Query)
}
