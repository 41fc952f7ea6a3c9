package handlers

import (
	"context"
	"net/http"

	"github.com/upb/audit-query/internal/observability"
	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/services"
	"github.com/upb/audit-query/utils"
	"go.uber.org/zap"
)

// Default paging when the request omits page or page_size
const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

// EventQuerier answers audit event listings
type EventQuerier interface {
	HandleRequest(ctx context.Context, q models.Query) (*models.Page, error)
}

// AuditHandler handles audit event HTTP requests
type AuditHandler struct {
	querier EventQuerier
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(querier EventQuerier, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		querier: querier,
		logger:  logger,
	}
}

// HandleListEvents handles GET /api/v1/audit/events
//
// Query parameters: from_ts, to_ts (required, epoch seconds, inclusive),
// actor_id, action (optional equality filters), page, page_size.
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), h.logger)

	q, err := parseQuery(r)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	page, err := h.querier.HandleRequest(r.Context(), q)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, page); err != nil {
		logger.Error("failed to write events response", zap.Error(err))
	}
}

// parseQuery reads the listing parameters; range and paging rules are
// checked by the query service
func parseQuery(r *http.Request) (models.Query, error) {
	var q models.Query
	invalid := services.NewDomainError(services.ErrorTypeInvalidQuery, "invalid query parameters", nil)

	from, err := utils.QueryOptionalInt64(r, "from_ts")
	switch {
	case err != nil:
		invalid.WithDetail("from_ts", err.Error())
	case from == nil:
		invalid.WithDetail("from_ts", "from_ts is required")
	default:
		q.FromTS = *from
	}

	to, err := utils.QueryOptionalInt64(r, "to_ts")
	switch {
	case err != nil:
		invalid.WithDetail("to_ts", err.Error())
	case to == nil:
		invalid.WithDetail("to_ts", "to_ts is required")
	default:
		q.ToTS = *to
	}

	if q.ActorID, err = utils.QueryOptionalInt64(r, "actor_id"); err != nil {
		invalid.WithDetail("actor_id", err.Error())
	}
	q.Action = utils.QueryOptionalString(r, "action")

	page, err := utils.QueryInt64(r, "page", DefaultPage)
	if err != nil {
		invalid.WithDetail("page", err.Error())
	}
	pageSize, err := utils.QueryInt64(r, "page_size", DefaultPageSize)
	if err != nil {
		invalid.WithDetail("page_size", err.Error())
	}
	q.Page, q.PageSize = clampInt(page), clampInt(pageSize)

	if len(invalid.Details) > 0 {
		return models.Query{}, invalid
	}
	return q, nil
}

// clampInt keeps 64-bit request values inside int on every platform; the
// service rejects anything out of range
func clampInt(v int64) int {
	const maxInt = int64(^uint(0) >> 1)
	const minInt = -maxInt - 1
	switch {
	case v > maxInt:
		return int(maxInt)
	case v < minInt:
		return int(minInt)
	}
	return int(v)
}
