package models

import (
	"fmt"
	"strconv"
	"strings"
)

// AuditEvent is a metadata row of the audit_events table.
// PayloadOffset and PayloadLen locate the event's JSON body in the payload
// blob file and are never recomputed outside the index.
type AuditEvent struct {
	ID            int64  `json:"id" db:"id"`
	CreatedAt     int64  `json:"created_at" db:"created_at"`
	ActorID       int64  `json:"actor_id" db:"actor_id"`
	Action        string `json:"action" db:"action"`
	ResourceType  string `json:"resource_type" db:"resource_type"`
	ResourceID    string `json:"resource_id" db:"resource_id"`
	PayloadOffset int64  `json:"-" db:"payload_offset"`
	PayloadLen    int64  `json:"-" db:"payload_len"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// SortKey returns the row's position in (created_at DESC, id DESC) order.
func (e *AuditEvent) SortKey() Cursor {
	return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// Event is an AuditEvent hydrated with its decoded payload.
type Event struct {
	ID           int64  `json:"id"`
	CreatedAt    int64  `json:"created_at"`
	ActorID      int64  `json:"actor_id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Payload      any    `json:"payload"`
}

// Hydrate attaches a decoded payload to the metadata row.
func (e *AuditEvent) Hydrate(payload any) Event {
	return Event{
		ID:           e.ID,
		CreatedAt:    e.CreatedAt,
		ActorID:      e.ActorID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Payload:      payload,
	}
}

// Cursor identifies a pagination anchor: the last row of the previous page.
// (CreatedAt, ID) is unique across rows, so a cursor names exactly one row.
type Cursor struct {
	CreatedAt int64 `json:"created_at"`
	ID        int64 `json:"id"`
}

// Before reports whether c sorts strictly before other in
// (created_at DESC, id DESC) order.
func (c Cursor) Before(other Cursor) bool {
	if c.CreatedAt != other.CreatedAt {
		return c.CreatedAt > other.CreatedAt
	}
	return c.ID > other.ID
}

// String returns a compact representation used in cache keys and logs
func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d", c.CreatedAt, c.ID)
}

// ParseCursor parses the "created_at:id" form produced by String
func ParseCursor(s string) (Cursor, error) {
	createdAt, id, ok := strings.Cut(s, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("invalid cursor %q", s)
	}
	ca, err := strconv.ParseInt(createdAt, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor created_at %q: %w", createdAt, err)
	}
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor id %q: %w", id, err)
	}
	return Cursor{CreatedAt: ca, ID: rowID}, nil
}
