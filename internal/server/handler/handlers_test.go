package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeStatusSource struct {
	status domain.OrchestratorStatus
	feeds  []domain.FeedStatus
	err    error
}

func (f *fakeStatusSource) GetOrchestratorStatus(ctx context.Context) (domain.OrchestratorStatus, error) {
	return f.status, f.err
}

func (f *fakeStatusSource) GetFeedStatus(ctx context.Context, feedID string) (domain.FeedStatus, error) {
	for _, s := range f.feeds {
		if s.FeedID == feedID {
			return s, nil
		}
	}
	return domain.FeedStatus{}, domain.ErrNotFound
}

func (f *fakeStatusSource) ListFeedStatuses(ctx context.Context) ([]domain.FeedStatus, error) {
	return f.feeds, nil
}

type fakeFeedDirectory struct {
	feeds      []domain.Feed
	toggledID  string
	toggledTo  bool
	setEnabled error
}

func (f *fakeFeedDirectory) List(ctx context.Context) ([]domain.Feed, error) {
	return f.feeds, nil
}

func (f *fakeFeedDirectory) Get(ctx context.Context, id string) (domain.Feed, error) {
	for _, feed := range f.feeds {
		if feed.ID == id {
			return feed, nil
		}
	}
	return domain.Feed{}, domain.ErrNotFound
}

func (f *fakeFeedDirectory) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if f.setEnabled != nil {
		return f.setEnabled
	}
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.toggledID = id
	f.toggledTo = enabled
	return nil
}

type fakeAttemptSource struct {
	attempts []domain.UpdateAttempt
	gotFeed  string
	gotOpts  domain.ListOpts
}

func (f *fakeAttemptSource) ListByFeed(ctx context.Context, feedID string, opts domain.ListOpts) ([]domain.UpdateAttempt, error) {
	f.gotFeed = feedID
	f.gotOpts = opts
	return f.attempts, nil
}

type fakeStopper struct {
	reason string
}

func (f *fakeStopper) Stop(reason string) { f.reason = reason }

func sampleFeed(id string) domain.Feed {
	return domain.Feed{
		ID:            id,
		Alias:         strings.ToUpper(id),
		SourceChainID: 8453,
		Trust:         domain.TrustRelay,
		PoolAddress:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		FeedContract:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		RelayContract: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Enabled:       true,
	}
}

func TestGetStatusReportsIdleBeforeFirstTick(t *testing.T) {
	src := &fakeStatusSource{err: domain.ErrNotFound}
	h := NewStatusHandler("serve", src, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "serve", resp.Mode)
	require.Equal(t, domain.RunStateIdle, resp.Orchestrator.State)
}

func TestGetStatusReturnsTrackedState(t *testing.T) {
	src := &fakeStatusSource{status: domain.OrchestratorStatus{
		State:     domain.RunStateRunning,
		Ticks:     42,
		Successes: 40,
	}}
	h := NewStatusHandler("update", src, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, domain.RunStateRunning, resp.Orchestrator.State)
	require.Equal(t, uint64(42), resp.Orchestrator.Ticks)
}

func TestGetStatusWithoutSource(t *testing.T) {
	h := NewStatusHandler("serve", nil, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListFeedsMergesStatus(t *testing.T) {
	dir := &fakeFeedDirectory{feeds: []domain.Feed{sampleFeed("wflr-usdc"), sampleFeed("weth-usdc")}}
	src := &fakeStatusSource{feeds: []domain.FeedStatus{
		{FeedID: "wflr-usdc", LastOutcome: domain.OutcomeSuccess, LastPrice: "0.024315"},
	}}
	h := NewFeedHandler(dir, dir, src, testLogger())

	rec := httptest.NewRecorder()
	h.ListFeeds(rec, httptest.NewRequest(http.MethodGet, "/api/feeds", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listFeedsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)

	byID := map[string]feedResponse{}
	for _, f := range resp.Feeds {
		byID[f.ID] = f
	}
	require.NotNil(t, byID["wflr-usdc"].Status)
	require.Equal(t, "0.024315", byID["wflr-usdc"].Status.LastPrice)
	require.Nil(t, byID["weth-usdc"].Status)
}

func TestGetFeedByID(t *testing.T) {
	dir := &fakeFeedDirectory{feeds: []domain.Feed{sampleFeed("wflr-usdc")}}
	h := NewFeedHandler(dir, dir, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/feeds/wflr-usdc", nil)
	req.SetPathValue("id", "wflr-usdc")

	rec := httptest.NewRecorder()
	h.GetFeed(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp feedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "wflr-usdc", resp.ID)
	require.Equal(t, "relay", resp.Trust)
	require.Empty(t, resp.RecorderContract)
	require.NotEmpty(t, resp.RelayContract)
}

func TestGetFeedNotFound(t *testing.T) {
	dir := &fakeFeedDirectory{}
	h := NewFeedHandler(dir, dir, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/feeds/nope", nil)
	req.SetPathValue("id", "nope")

	rec := httptest.NewRecorder()
	h.GetFeed(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisableFeedTogglesStore(t *testing.T) {
	dir := &fakeFeedDirectory{feeds: []domain.Feed{sampleFeed("wflr-usdc")}}
	h := NewFeedHandler(dir, dir, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/feeds/wflr-usdc/disable", nil)
	req.SetPathValue("id", "wflr-usdc")

	rec := httptest.NewRecorder()
	h.DisableFeed(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "wflr-usdc", dir.toggledID)
	require.False(t, dir.toggledTo)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "wflr-usdc", resp["id"])
	require.Equal(t, false, resp["enabled"])
}

func TestEnableFeedTogglesStore(t *testing.T) {
	dir := &fakeFeedDirectory{feeds: []domain.Feed{sampleFeed("wflr-usdc")}}
	h := NewFeedHandler(dir, dir, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/feeds/wflr-usdc/enable", nil)
	req.SetPathValue("id", "wflr-usdc")

	rec := httptest.NewRecorder()
	h.EnableFeed(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "wflr-usdc", dir.toggledID)
	require.True(t, dir.toggledTo)
}

func TestToggleFeedNotFound(t *testing.T) {
	dir := &fakeFeedDirectory{}
	h := NewFeedHandler(dir, dir, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/feeds/nope/disable", nil)
	req.SetPathValue("id", "nope")

	rec := httptest.NewRecorder()
	h.DisableFeed(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleFeedWithoutControl(t *testing.T) {
	h := NewFeedHandler(&fakeFeedDirectory{}, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/feeds/wflr-usdc/enable", nil)
	req.SetPathValue("id", "wflr-usdc")

	rec := httptest.NewRecorder()
	h.EnableFeed(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAttemptsRequiresFeedParam(t *testing.T) {
	h := NewAttemptHandler(&fakeAttemptSource{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListAttempts(rec, httptest.NewRequest(http.MethodGet, "/api/attempts", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAttemptsPassesPagination(t *testing.T) {
	src := &fakeAttemptSource{attempts: []domain.UpdateAttempt{
		{
			ID:        7,
			FeedID:    "wflr-usdc",
			Phase:     domain.PhaseVerify,
			Outcome:   domain.OutcomeSuccess,
			TxHash:    common.HexToHash("0xabc1"),
			Price:     "0.024315",
			StartedAt: time.Now().UTC(),
		},
	}}
	h := NewAttemptHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListAttempts(rec, httptest.NewRequest(http.MethodGet, "/api/attempts?feed=wflr-usdc&limit=10&offset=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "wflr-usdc", src.gotFeed)
	require.Equal(t, 10, src.gotOpts.Limit)
	require.Equal(t, 20, src.gotOpts.Offset)

	var resp listAttemptsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Attempts, 1)
	require.Equal(t, "success", resp.Attempts[0].Outcome)
	require.NotEmpty(t, resp.Attempts[0].TxHash)
}

func TestListAttemptsWithoutStore(t *testing.T) {
	h := NewAttemptHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListAttempts(rec, httptest.NewRequest(http.MethodGet, "/api/attempts?feed=x", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeAuditSource struct {
	entries []domain.AuditEntry
	gotOpts domain.ListOpts
}

func (f *fakeAuditSource) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.gotOpts = opts
	return f.entries, nil
}

func TestListAuditReturnsEntries(t *testing.T) {
	src := &fakeAuditSource{entries: []domain.AuditEntry{
		{ID: 2, Event: "updater.stopped", Detail: map[string]any{"reason": "circuit breaker open"}, CreatedAt: time.Now().UTC()},
		{ID: 1, Event: "updater.started", CreatedAt: time.Now().UTC().Add(-time.Hour)},
	}}
	h := NewAuditHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 10, src.gotOpts.Limit)

	var resp listAuditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	require.Equal(t, "updater.stopped", resp.Entries[0].Event)
	require.Equal(t, "circuit breaker open", resp.Entries[0].Detail["reason"])
	require.Nil(t, resp.Entries[1].Detail)
}

func TestListAuditWithoutStore(t *testing.T) {
	h := NewAuditHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStopOrchestratorForwardsReason(t *testing.T) {
	stopper := &fakeStopper{}
	h := NewOrchestratorHandler(stopper, testLogger())

	body := strings.NewReader(`{"reason":"maintenance window"}`)
	rec := httptest.NewRecorder()
	h.StopOrchestrator(rec, httptest.NewRequest(http.MethodPost, "/api/orchestrator/stop", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "maintenance window", stopper.reason)
}

func TestStopOrchestratorDefaultsReason(t *testing.T) {
	stopper := &fakeStopper{}
	h := NewOrchestratorHandler(stopper, testLogger())

	rec := httptest.NewRecorder()
	h.StopOrchestrator(rec, httptest.NewRequest(http.MethodPost, "/api/orchestrator/stop", strings.NewReader("")))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "operator requested stop", stopper.reason)
}

func TestStopOrchestratorWithoutLoop(t *testing.T) {
	h := NewOrchestratorHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.StopOrchestrator(rec, httptest.NewRequest(http.MethodPost, "/api/orchestrator/stop", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestParseListOptsClampsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/attempts?limit=%d", 10_000), nil)
	opts := parseListOpts(req)
	require.Equal(t, 500, opts.Limit)

	req = httptest.NewRequest(http.MethodGet, "/api/attempts", nil)
	opts = parseListOpts(req)
	require.Equal(t, 50, opts.Limit)
	require.Equal(t, 0, opts.Offset)
}

func TestParseListOptsTimeWindow(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/attempts?since=2026-08-01T00:00:00Z&until=2026-08-02T00:00:00Z", nil)
	opts := parseListOpts(req)

	require.NotNil(t, opts.Since)
	require.NotNil(t, opts.Until)
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), opts.Since.UTC())
	require.True(t, opts.Until.After(*opts.Since))

	// Garbage timestamps are dropped rather than rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/attempts?since=yesterday", nil)
	opts = parseListOpts(req)
	require.Nil(t, opts.Since)
}
