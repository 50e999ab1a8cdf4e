package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// AuditSource is the read access the audit handler needs from the audit log.
type AuditSource interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the operational audit log.
type AuditHandler struct {
	audit  AuditSource
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. audit may be nil when the
// deployment runs without a database; the endpoint then reports 503.
func NewAuditHandler(audit AuditSource, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// auditEntryResponse is the wire shape of one audit event.
type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// listAuditResponse wraps the list endpoint output with pagination echo.
type listAuditResponse struct {
	Entries []auditEntryResponse `json:"entries"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// ListAudit returns audit events, newest first.
// GET /api/audit?limit=50&offset=0&since={rfc3339}&until={rfc3339}
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable in this mode")
		return
	}

	opts := parseListOpts(r)

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, listAuditResponse{
		Entries: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}
