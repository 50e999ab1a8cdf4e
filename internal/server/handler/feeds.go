package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// FeedDirectory is the read access the feed handler needs from the feed
// registry. It is declared locally so the handler package does not depend on
// the concrete store implementation.
type FeedDirectory interface {
	List(ctx context.Context) ([]domain.Feed, error)
	Get(ctx context.Context, id string) (domain.Feed, error)
}

// FeedControl is the write access the feed handler needs for operator
// enable/disable requests.
type FeedControl interface {
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// FeedStatusSource provides per-feed status to merge into feed responses.
type FeedStatusSource interface {
	GetFeedStatus(ctx context.Context, feedID string) (domain.FeedStatus, error)
	ListFeedStatuses(ctx context.Context) ([]domain.FeedStatus, error)
}

// FeedHandler serves feed-related HTTP endpoints.
type FeedHandler struct {
	feeds   FeedDirectory
	control FeedControl
	status  FeedStatusSource
	logger  *slog.Logger
}

// NewFeedHandler creates a FeedHandler. control may be nil, which disables
// the enable/disable routes; status may be nil, and feed responses then omit
// the status section.
func NewFeedHandler(feeds FeedDirectory, control FeedControl, status FeedStatusSource, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		feeds:   feeds,
		control: control,
		status:  status,
		logger:  logger,
	}
}

// feedResponse is the wire shape of one feed, optionally carrying its latest
// update status.
type feedResponse struct {
	ID               string             `json:"id"`
	Alias            string             `json:"alias,omitempty"`
	SourceChainID    uint64             `json:"source_chain_id"`
	Trust            string             `json:"trust"`
	PoolAddress      string             `json:"pool_address"`
	FeedContract     string             `json:"feed_contract"`
	RecorderContract string             `json:"recorder_contract,omitempty"`
	RelayContract    string             `json:"relay_contract,omitempty"`
	Token0Decimals   uint8              `json:"token0_decimals"`
	Token1Decimals   uint8              `json:"token1_decimals"`
	InvertPrice      bool               `json:"invert_price"`
	Enabled          bool               `json:"enabled"`
	Status           *domain.FeedStatus `json:"status,omitempty"`
}

func toFeedResponse(f domain.Feed, status *domain.FeedStatus) feedResponse {
	resp := feedResponse{
		ID:             f.ID,
		Alias:          f.Alias,
		SourceChainID:  f.SourceChainID,
		Trust:          string(f.Trust),
		PoolAddress:    f.PoolAddress.Hex(),
		FeedContract:   f.FeedContract.Hex(),
		Token0Decimals: f.Token0Decimals,
		Token1Decimals: f.Token1Decimals,
		InvertPrice:    f.InvertPrice,
		Enabled:        f.Enabled,
		Status:         status,
	}
	if f.RecorderContract != (common.Address{}) {
		resp.RecorderContract = f.RecorderContract.Hex()
	}
	if f.RelayContract != (common.Address{}) {
		resp.RelayContract = f.RelayContract.Hex()
	}
	return resp
}

// listFeedsResponse wraps the list endpoint output.
type listFeedsResponse struct {
	Feeds []feedResponse `json:"feeds"`
	Total int            `json:"total"`
}

// ListFeeds returns every configured feed with its latest status.
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.feeds.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list feeds failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list feeds")
		return
	}

	statuses := map[string]domain.FeedStatus{}
	if h.status != nil {
		list, err := h.status.ListFeedStatuses(r.Context())
		if err != nil {
			// Feed data is still useful without status.
			h.logger.WarnContext(r.Context(), "handler: list feed statuses failed",
				slog.String("error", err.Error()),
			)
		}
		for _, s := range list {
			statuses[s.FeedID] = s
		}
	}

	out := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		var status *domain.FeedStatus
		if s, ok := statuses[f.ID]; ok {
			status = &s
		}
		out = append(out, toFeedResponse(f, status))
	}

	writeJSON(w, http.StatusOK, listFeedsResponse{Feeds: out, Total: len(out)})
}

// GetFeed returns a single feed by its ID.
// GET /api/feeds/{id}
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing feed id")
		return
	}

	feed, err := h.feeds.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get feed failed",
			slog.String("feed_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get feed")
		return
	}

	var status *domain.FeedStatus
	if h.status != nil {
		s, err := h.status.GetFeedStatus(r.Context(), id)
		if err == nil {
			status = &s
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "handler: get feed status failed",
				slog.String("feed_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, toFeedResponse(feed, status))
}

// EnableFeed puts a feed back into the update rotation.
// POST /api/feeds/{id}/enable
func (h *FeedHandler) EnableFeed(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableFeed pulls a feed out of the update rotation. Attempt history and
// pool state are untouched; re-enabling resumes where the feed left off.
// POST /api/feeds/{id}/disable
func (h *FeedHandler) DisableFeed(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *FeedHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if h.control == nil {
		writeError(w, http.StatusServiceUnavailable, "feed control unavailable in this mode")
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing feed id")
		return
	}

	if err := h.control.SetEnabled(r.Context(), id, enabled); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set feed enabled failed",
			slog.String("feed_id", id),
			slog.Bool("enabled", enabled),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update feed")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: feed toggled",
		slog.String("feed_id", id),
		slog.Bool("enabled", enabled),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"enabled": enabled,
	})
}
