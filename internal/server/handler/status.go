package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// StatusSource provides the orchestrator status the handler serves. Both the
// in-process tracker and the Redis status cache satisfy it, so serve mode can
// report on an updater running in another process.
type StatusSource interface {
	GetOrchestratorStatus(ctx context.Context) (domain.OrchestratorStatus, error)
}

// StatusHandler serves the update-loop status for operators and dashboards.
type StatusHandler struct {
	mode   string
	source StatusSource
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. source may be nil when the
// process has neither an updater nor a status cache.
func NewStatusHandler(mode string, source StatusSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, source: source, logger: logger}
}

// statusResponse wraps the orchestrator status with the process run mode.
type statusResponse struct {
	Mode         string                    `json:"mode"`
	Orchestrator domain.OrchestratorStatus `json:"orchestrator"`
}

// GetStatus responds with the run mode and the current orchestrator status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable in this mode")
		return
	}

	status, err := h.source.GetOrchestratorStatus(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// No updater has reported yet.
			writeJSON(w, http.StatusOK, statusResponse{
				Mode:         h.mode,
				Orchestrator: domain.OrchestratorStatus{State: domain.RunStateIdle},
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get status")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Mode: h.mode, Orchestrator: status})
}
