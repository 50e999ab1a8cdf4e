package updater

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

type fakeStatusCache struct {
	mu     sync.Mutex
	feeds  map[string]domain.FeedStatus
	global domain.OrchestratorStatus
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{feeds: make(map[string]domain.FeedStatus)}
}

func (c *fakeStatusCache) SetFeedStatus(_ context.Context, status domain.FeedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeds[status.FeedID] = status
	return nil
}

func (c *fakeStatusCache) GetFeedStatus(_ context.Context, feedID string) (domain.FeedStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := c.feeds[feedID]
	if !ok {
		return domain.FeedStatus{}, domain.ErrNotFound
	}
	return fs, nil
}

func (c *fakeStatusCache) ListFeedStatuses(context.Context) ([]domain.FeedStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FeedStatus, 0, len(c.feeds))
	for _, fs := range c.feeds {
		out = append(out, fs)
	}
	return out, nil
}

func (c *fakeStatusCache) SetOrchestratorStatus(_ context.Context, status domain.OrchestratorStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = status
	return nil
}

func (c *fakeStatusCache) GetOrchestratorStatus(context.Context) (domain.OrchestratorStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) payloads(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestTrackerLifecycle(t *testing.T) {
	audit := &fakeAuditStore{}
	tracker := NewTracker(nil, audit, nil, nil, testLogger())
	ctx := context.Background()

	status, err := tracker.GetOrchestratorStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunStateIdle, status.State)

	tracker.MarkStarted(ctx)
	tracker.MarkTick(ctx)
	tracker.MarkTick(ctx)

	status, err = tracker.GetOrchestratorStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunStateRunning, status.State)
	require.Equal(t, uint64(2), status.Ticks)
	require.False(t, status.StartedAt.IsZero())

	tracker.MarkStopped(ctx, "circuit breaker")

	status, err = tracker.GetOrchestratorStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RunStateStopped, status.State)
	require.Equal(t, "circuit breaker", status.StopReason)

	require.Equal(t, []string{"updater.started", "updater.stopped"}, audit.events)
}

func TestRecordAttemptFoldsCounters(t *testing.T) {
	attempts := &fakeAttemptStore{}
	tracker := NewTracker(attempts, nil, nil, nil, testLogger())
	ctx := context.Background()
	feed := testFeed("wflr-usdc")
	feed.Alias = "WFLR/USDC"

	ok := attemptFor(feed, domain.OutcomeSuccess, "")
	ok.Price = "1.0512"
	ok.TxHash = common.HexToHash("0xaaaa")
	ok.VotingRound = 912345
	tracker.RecordAttempt(ctx, feed, ok)

	fail := attemptFor(feed, domain.OutcomeFailed, "relay: price too old")
	fail.TxHash = common.HexToHash("0xbbbb")
	snap := tracker.RecordAttempt(ctx, feed, fail)

	require.Equal(t, uint64(1), snap.Successes)
	require.Equal(t, uint64(1), snap.Failures)
	require.Equal(t, uint64(1), snap.ConsecutiveFailures)

	fs, err := tracker.GetFeedStatus(ctx, "wflr-usdc")
	require.NoError(t, err)
	require.Equal(t, "WFLR/USDC", fs.Alias)
	require.Equal(t, domain.OutcomeFailed, fs.LastOutcome)
	require.Equal(t, uint64(1), fs.Successes)
	require.Equal(t, uint64(1), fs.Failures)
	require.Equal(t, uint64(1), fs.ConsecutiveFailures)
	require.Equal(t, "relay: price too old", fs.LastError)
	// Success fields survive the later failure; the failed tx hash replaces
	// the successful one so retries target the newest transaction.
	require.Equal(t, "1.0512", fs.LastPrice)
	require.Equal(t, common.HexToHash("0xbbbb").Hex(), fs.LastTxHash)
	require.Equal(t, uint64(912345), fs.LastVotingRound)

	// A success clears the consecutive-failure streak and the error.
	snap = tracker.RecordAttempt(ctx, feed, attemptFor(feed, domain.OutcomeSuccess, ""))
	require.Zero(t, snap.ConsecutiveFailures)
	fs, err = tracker.GetFeedStatus(ctx, "wflr-usdc")
	require.NoError(t, err)
	require.Zero(t, fs.ConsecutiveFailures)
	require.Empty(t, fs.LastError)

	// Every attempt, including failures, is persisted.
	require.Len(t, attempts.inserted, 3)
}

func TestSkippedAttemptsLeaveCountersAlone(t *testing.T) {
	attempts := &fakeAttemptStore{}
	tracker := NewTracker(attempts, nil, nil, nil, testLogger())
	ctx := context.Background()
	feed := testFeed("wflr-usdc")

	snap := tracker.RecordAttempt(ctx, feed, attemptFor(feed, domain.OutcomeSkipped, "gas price above ceiling"))
	require.Zero(t, snap.Successes)
	require.Zero(t, snap.Failures)
	require.Zero(t, snap.ConsecutiveFailures)

	fs, err := tracker.GetFeedStatus(ctx, "wflr-usdc")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeSkipped, fs.LastOutcome)
	require.Equal(t, "gas price above ceiling", fs.LastError)
	require.Zero(t, fs.Successes)
	require.Zero(t, fs.Failures)

	// Skips are still recorded for the audit trail.
	require.Len(t, attempts.inserted, 1)
}

func TestRecordTickErrorFeedsBreakerCount(t *testing.T) {
	tracker := NewTracker(nil, nil, nil, nil, testLogger())
	ctx := context.Background()

	snap := tracker.RecordTickError(ctx)
	snap = tracker.RecordTickError(ctx)
	require.Equal(t, uint64(2), snap.Failures)
	require.Equal(t, uint64(2), snap.ConsecutiveFailures)

	feed := testFeed("wflr-usdc")
	snap = tracker.RecordAttempt(ctx, feed, attemptFor(feed, domain.OutcomeSuccess, ""))
	require.Zero(t, snap.ConsecutiveFailures)
}

func TestRecordAttemptMirrorsCacheAndBus(t *testing.T) {
	cache := newFakeStatusCache()
	bus := newFakeBus()
	tracker := NewTracker(nil, nil, cache, bus, testLogger())
	ctx := context.Background()
	feed := testFeed("wflr-usdc")

	attempt := attemptFor(feed, domain.OutcomeSuccess, "")
	attempt.Price = "1.0512"
	attempt.TxHash = common.HexToHash("0xcccc")
	attempt.VotingRound = 912346
	tracker.RecordAttempt(ctx, feed, attempt)

	cached, err := cache.GetFeedStatus(ctx, "wflr-usdc")
	require.NoError(t, err)
	require.Equal(t, "1.0512", cached.LastPrice)

	global, err := cache.GetOrchestratorStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), global.Successes)

	updates := bus.payloads(domain.ChannelUpdates)
	require.Len(t, updates, 1)
	var ev domain.UpdateEvent
	require.NoError(t, json.Unmarshal(updates[0], &ev))
	require.Equal(t, "update", ev.Type)
	require.Equal(t, "wflr-usdc", ev.FeedID)
	require.Equal(t, domain.OutcomeSuccess, ev.Outcome)
	require.Equal(t, uint64(912346), ev.VotingRound)
	require.Equal(t, common.HexToHash("0xcccc").Hex(), ev.TxHash)

	statuses := bus.payloads(domain.ChannelStatus)
	require.NotEmpty(t, statuses)
	var sev domain.StatusEvent
	require.NoError(t, json.Unmarshal(statuses[len(statuses)-1], &sev))
	require.Equal(t, "status", sev.Type)
	require.Equal(t, uint64(1), sev.Status.Successes)
}

func TestTrackerToleratesNilSidecars(t *testing.T) {
	tracker := NewTracker(nil, nil, nil, nil, testLogger())
	ctx := context.Background()
	feed := testFeed("wflr-usdc")

	tracker.MarkStarted(ctx)
	tracker.RecordAttempt(ctx, feed, attemptFor(feed, domain.OutcomeSuccess, ""))
	tracker.MarkStopped(ctx, "operator request")

	list, err := tracker.ListFeedStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = tracker.GetFeedStatus(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
