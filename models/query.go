package models

import (
	"strconv"
	"strings"
)

// Query is a single listing request. Page is 1-based.
type Query struct {
	FromTS   int64   `json:"from_ts" validate:"gte=0"`
	ToTS     int64   `json:"to_ts" validate:"gtefield=FromTS"`
	ActorID  *int64  `json:"actor_id"`
	Action   *string `json:"action" validate:"omitempty,max=64"`
	Page     int     `json:"page" validate:"gte=1"`
	PageSize int     `json:"page_size" validate:"gte=1"`
}

// Filter returns the predicate part of the query.
func (q Query) Filter() Filter {
	return Filter{
		FromTS:  q.FromTS,
		ToTS:    q.ToTS,
		ActorID: q.ActorID,
		Action:  q.Action,
	}
}

// Offset returns the number of filtered rows preceding the requested page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Filter holds the fixed set of predicates a listing can apply:
// an inclusive created_at range and optional actor/action equality.
type Filter struct {
	FromTS  int64
	ToTS    int64
	ActorID *int64
	Action  *string
}

// Key returns a stable string identifying the filter.
func (f Filter) Key() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(f.FromTS, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(f.ToTS, 10))
	b.WriteByte(':')
	if f.ActorID != nil {
		b.WriteString(strconv.FormatInt(*f.ActorID, 10))
	} else {
		b.WriteByte('*')
	}
	b.WriteByte(':')
	if f.Action != nil {
		b.WriteString(strconv.Quote(*f.Action))
	} else {
		b.WriteByte('*')
	}
	return b.String()
}

// Matches applies the filter to a metadata row.
func (f Filter) Matches(e *AuditEvent) bool {
	if e.CreatedAt < f.FromTS || e.CreatedAt > f.ToTS {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	return true
}

// Page is the response for a single query.
type Page struct {
	Query  Query   `json:"query"`
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// NewPage builds a page; Count always equals len(events).
func NewPage(q Query, events []Event) *Page {
	if events == nil {
		events = []Event{}
	}
	return &Page{
		Query:  q,
		Events: events,
		Count:  len(events),
	}
}
