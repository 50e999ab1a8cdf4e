package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Stopper is the control surface the orchestrator exposes to the API: a
// graceful stop that finishes the in-flight attempt first.
type Stopper interface {
	Stop(reason string)
}

// OrchestratorHandler serves operator controls for the update loop.
type OrchestratorHandler struct {
	stopper Stopper
	logger  *slog.Logger
}

// NewOrchestratorHandler creates an OrchestratorHandler. stopper is nil in
// serve-only processes, where the loop runs elsewhere.
func NewOrchestratorHandler(stopper Stopper, logger *slog.Logger) *OrchestratorHandler {
	return &OrchestratorHandler{stopper: stopper, logger: logger}
}

// stopRequest is the optional body of the stop endpoint.
type stopRequest struct {
	Reason string `json:"reason"`
}

// StopOrchestrator asks the update loop to stop after the current attempt.
// POST /api/orchestrator/stop
func (h *OrchestratorHandler) StopOrchestrator(w http.ResponseWriter, r *http.Request) {
	if h.stopper == nil {
		writeError(w, http.StatusConflict, "no update loop running in this process")
		return
	}

	var req stopRequest
	if r.Body != nil {
		// An empty or malformed body just means no reason was given.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator requested stop"
	}

	h.logger.InfoContext(r.Context(), "handler: orchestrator stop requested",
		slog.String("reason", reason),
	)
	h.stopper.Stop(reason)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "stopping",
		"reason": reason,
	})
}
