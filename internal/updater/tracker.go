package updater

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// Tracker is the single bookkeeping point for attempt outcomes: it persists
// them, keeps the in-memory per-feed and global counters the status API
// serves, mirrors both into the status cache and publishes events on the
// bus. Every side channel is optional; a nil store or bus is skipped.
type Tracker struct {
	attempts domain.AttemptStore
	audit    domain.AuditStore
	cache    domain.StatusCache
	bus      domain.EventBus
	logger   *slog.Logger

	mu     sync.RWMutex
	global domain.OrchestratorStatus
	feeds  map[string]*domain.FeedStatus
}

// NewTracker creates a Tracker. Any of attempts, audit, cache and bus may be
// nil.
func NewTracker(attempts domain.AttemptStore, audit domain.AuditStore, cache domain.StatusCache, bus domain.EventBus, logger *slog.Logger) *Tracker {
	return &Tracker{
		attempts: attempts,
		audit:    audit,
		cache:    cache,
		bus:      bus,
		logger:   logger.With(slog.String("component", "tracker")),
		global:   domain.OrchestratorStatus{State: domain.RunStateIdle},
		feeds:    make(map[string]*domain.FeedStatus),
	}
}

// MarkStarted transitions the global status to running.
func (t *Tracker) MarkStarted(ctx context.Context) {
	now := time.Now().UTC()

	t.mu.Lock()
	t.global.State = domain.RunStateRunning
	t.global.StartedAt = now
	t.global.StopReason = ""
	t.global.UpdatedAt = now
	snap := t.global
	t.mu.Unlock()

	t.mirrorGlobal(ctx, snap)
	t.auditEvent(ctx, "updater.started", nil)
}

// MarkTick counts one scheduler pass.
func (t *Tracker) MarkTick(ctx context.Context) {
	t.mu.Lock()
	t.global.Ticks++
	t.global.UpdatedAt = time.Now().UTC()
	snap := t.global
	t.mu.Unlock()

	t.mirrorGlobal(ctx, snap)
}

// MarkStopped transitions the global status to the terminal stopped state.
func (t *Tracker) MarkStopped(ctx context.Context, reason string) {
	t.mu.Lock()
	t.global.State = domain.RunStateStopped
	t.global.StopReason = reason
	t.global.UpdatedAt = time.Now().UTC()
	snap := t.global
	t.mu.Unlock()

	t.mirrorGlobal(ctx, snap)
	t.auditEvent(ctx, "updater.stopped", map[string]any{"reason": reason})
}

// RecordAttempt persists one finished attempt, folds it into the counters and
// publishes the update event. It returns the updated global snapshot so the
// caller can evaluate the circuit breaker. Skipped attempts leave every
// counter untouched.
func (t *Tracker) RecordAttempt(ctx context.Context, feed domain.Feed, attempt domain.UpdateAttempt) domain.OrchestratorStatus {
	// Persistence must survive the shutdown that may have aborted the
	// attempt itself; a sent transaction hash is only retryable if the row
	// lands.
	persistCtx := context.WithoutCancel(ctx)

	if t.attempts != nil {
		if _, err := t.attempts.Insert(persistCtx, attempt); err != nil {
			t.logger.Error("attempt insert failed",
				slog.String("feed", feed.ID),
				slog.String("error", err.Error()))
		}
	}

	t.mu.Lock()
	fs, ok := t.feeds[feed.ID]
	if !ok {
		fs = &domain.FeedStatus{FeedID: feed.ID}
		t.feeds[feed.ID] = fs
	}
	fs.Alias = feed.Alias
	fs.LastOutcome = attempt.Outcome
	fs.LastAttemptAt = attempt.DoneAt

	switch attempt.Outcome {
	case domain.OutcomeSuccess:
		fs.Successes++
		fs.ConsecutiveFailures = 0
		fs.LastPrice = attempt.Price
		fs.LastTxHash = attempt.TxHash.Hex()
		fs.LastVotingRound = attempt.VotingRound
		fs.LastError = ""
		fs.LastSuccessAt = attempt.DoneAt
		t.global.Successes++
		t.global.ConsecutiveFailures = 0

	case domain.OutcomeFailed:
		fs.Failures++
		fs.ConsecutiveFailures++
		fs.LastError = attempt.Error
		if attempt.TxHash != (common.Hash{}) {
			fs.LastTxHash = attempt.TxHash.Hex()
		}
		t.global.Failures++
		t.global.ConsecutiveFailures++

	case domain.OutcomeSkipped:
		fs.LastError = attempt.Error
	}

	t.global.UpdatedAt = time.Now().UTC()
	feedSnap := *fs
	globalSnap := t.global
	t.mu.Unlock()

	if t.cache != nil {
		if err := t.cache.SetFeedStatus(persistCtx, feedSnap); err != nil {
			t.logger.Warn("feed status cache write failed", slog.String("error", err.Error()))
		}
	}
	t.mirrorGlobal(persistCtx, globalSnap)

	t.publishUpdate(persistCtx, feed, attempt)

	return globalSnap
}

// RecordTickError counts a tick that failed before any feed was attempted,
// e.g. a feed registry read error. It feeds the same consecutive-failure
// count the circuit breaker watches.
func (t *Tracker) RecordTickError(ctx context.Context) domain.OrchestratorStatus {
	t.mu.Lock()
	t.global.Failures++
	t.global.ConsecutiveFailures++
	t.global.UpdatedAt = time.Now().UTC()
	snap := t.global
	t.mu.Unlock()

	t.mirrorGlobal(context.WithoutCancel(ctx), snap)
	return snap
}

// GetOrchestratorStatus returns the current global snapshot.
func (t *Tracker) GetOrchestratorStatus(ctx context.Context) (domain.OrchestratorStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.global, nil
}

// GetFeedStatus returns the snapshot for one feed.
func (t *Tracker) GetFeedStatus(ctx context.Context, feedID string) (domain.FeedStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fs, ok := t.feeds[feedID]
	if !ok {
		return domain.FeedStatus{}, domain.ErrNotFound
	}
	return *fs, nil
}

// ListFeedStatuses returns a snapshot for every feed seen so far.
func (t *Tracker) ListFeedStatuses(ctx context.Context) ([]domain.FeedStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.FeedStatus, 0, len(t.feeds))
	for _, fs := range t.feeds {
		out = append(out, *fs)
	}
	return out, nil
}

func (t *Tracker) mirrorGlobal(ctx context.Context, snap domain.OrchestratorStatus) {
	if t.cache != nil {
		if err := t.cache.SetOrchestratorStatus(ctx, snap); err != nil {
			t.logger.Warn("status cache write failed", slog.String("error", err.Error()))
		}
	}

	if t.bus != nil {
		payload, err := json.Marshal(domain.StatusEvent{Type: "status", Status: snap})
		if err != nil {
			return
		}
		if err := t.bus.Publish(ctx, domain.ChannelStatus, payload); err != nil {
			t.logger.Warn("status publish failed", slog.String("error", err.Error()))
		}
	}
}

func (t *Tracker) publishUpdate(ctx context.Context, feed domain.Feed, attempt domain.UpdateAttempt) {
	if t.bus == nil {
		return
	}

	ev := domain.UpdateEvent{
		Type:        "update",
		FeedID:      feed.ID,
		Alias:       feed.Alias,
		Outcome:     attempt.Outcome,
		Phase:       attempt.Phase,
		Price:       attempt.Price,
		VotingRound: attempt.VotingRound,
		Error:       attempt.Error,
		At:          attempt.DoneAt,
	}
	if attempt.TxHash != (common.Hash{}) {
		ev.TxHash = attempt.TxHash.Hex()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, domain.ChannelUpdates, payload); err != nil {
		t.logger.Warn("update publish failed", slog.String("error", err.Error()))
	}
}

func (t *Tracker) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(context.WithoutCancel(ctx), event, detail); err != nil {
		t.logger.Warn("audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
