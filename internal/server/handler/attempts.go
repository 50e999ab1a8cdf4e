package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// AttemptSource is the read access the attempt handler needs from the
// attempt store.
type AttemptSource interface {
	ListByFeed(ctx context.Context, feedID string, opts domain.ListOpts) ([]domain.UpdateAttempt, error)
}

// AttemptHandler serves update-attempt history.
type AttemptHandler struct {
	attempts AttemptSource
	logger   *slog.Logger
}

// NewAttemptHandler creates an AttemptHandler. attempts may be nil when the
// deployment runs without a database; the endpoint then reports 503.
func NewAttemptHandler(attempts AttemptSource, logger *slog.Logger) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, logger: logger}
}

// attemptResponse is the wire shape of one persisted attempt.
type attemptResponse struct {
	ID               int64     `json:"id"`
	JobID            string    `json:"job_id,omitempty"`
	FeedID           string    `json:"feed_id"`
	Phase            string    `json:"phase"`
	Outcome          string    `json:"outcome"`
	TxHash           string    `json:"tx_hash,omitempty"`
	VotingRound      uint64    `json:"voting_round,omitempty"`
	Price            string    `json:"price,omitempty"`
	SourceTimestamp  uint64    `json:"source_timestamp,omitempty"`
	ClampedTimestamp uint64    `json:"clamped_timestamp,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	DoneAt           time.Time `json:"done_at"`
}

func toAttemptResponse(a domain.UpdateAttempt) attemptResponse {
	resp := attemptResponse{
		ID:               a.ID,
		JobID:            a.JobID,
		FeedID:           a.FeedID,
		Phase:            string(a.Phase),
		Outcome:          string(a.Outcome),
		VotingRound:      a.VotingRound,
		Price:            a.Price,
		SourceTimestamp:  a.SourceTimestamp,
		ClampedTimestamp: a.ClampedTimestamp,
		Error:            a.Error,
		StartedAt:        a.StartedAt,
		DoneAt:           a.DoneAt,
	}
	if a.TxHash != (common.Hash{}) {
		resp.TxHash = a.TxHash.Hex()
	}
	return resp
}

// listAttemptsResponse wraps the list endpoint output with pagination echo.
type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ListAttempts returns attempt history for one feed, newest first.
// GET /api/attempts?feed={id}&limit=50&offset=0&since={rfc3339}&until={rfc3339}
func (h *AttemptHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, http.StatusServiceUnavailable, "attempt history unavailable in this mode")
		return
	}

	feedID := r.URL.Query().Get("feed")
	if feedID == "" {
		writeError(w, http.StatusBadRequest, "missing feed query parameter")
		return
	}

	opts := parseListOpts(r)

	attempts, err := h.attempts.ListByFeed(r.Context(), feedID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list attempts failed",
			slog.String("feed_id", feedID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}

	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, toAttemptResponse(a))
	}

	writeJSON(w, http.StatusOK, listAttemptsResponse{
		Attempts: out,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}
