// Package updater drives the end-to-end price update loop: pick the next
// enabled feed, record or relay its price, run the attestation pipeline for
// the resulting transaction and deliver the proof to the destination feed
// contract. One attempt is in flight at any time.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
	"github.com/alanyoungcy/relaybot/internal/notify"
)

// Updater executes one update attempt for a feed. The orchestrator owns
// scheduling, counters and persistence; implementations own the chain work.
type Updater interface {
	UpdateFeed(ctx context.Context, feed domain.Feed) domain.UpdateAttempt
	ResumeAttestation(ctx context.Context, feed domain.Feed, txHash common.Hash) domain.UpdateAttempt

	// CheckFunds reports domain.ErrLowBalance when the wallet cannot keep
	// paying for updates of the given feeds.
	CheckFunds(ctx context.Context, feeds []domain.Feed) error
}

// Config tunes the update loop.
type Config struct {
	// TickInterval is the pause between update attempts.
	TickInterval time.Duration

	// CircuitThreshold stops the orchestrator after this many consecutive
	// failed attempts. Zero disables the breaker.
	CircuitThreshold int
}

// Orchestrator owns the update schedule: a single-worker tick loop that
// walks enabled feeds round-robin, with a circuit breaker on consecutive
// failures. It stops, terminally, when the breaker trips, the wallet runs
// low, or an operator asks it to.
type Orchestrator struct {
	cfg      Config
	updater  Updater
	feeds    domain.FeedStore
	attempts domain.AttemptStore // optional, for retry-by-feed lookups
	tracker  *Tracker
	notifier *notify.Notifier // optional
	logger   *slog.Logger

	// inFlight serializes attempts. The loop itself never overlaps ticks,
	// but Tick is also reachable from tests and tooling; TryLock turns a
	// re-entrant call into a no-op instead of a queued execution.
	inFlight sync.Mutex
	cursor   int

	stopOnce   sync.Once
	stopCh     chan struct{}
	mu         sync.Mutex
	stopReason string
}

// New creates an Orchestrator. attempts and notifier may be nil.
func New(cfg Config, updater Updater, feeds domain.FeedStore, attempts domain.AttemptStore, tracker *Tracker, notifier *notify.Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		updater:  updater,
		feeds:    feeds,
		attempts: attempts,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "orchestrator")),
		stopCh:   make(chan struct{}),
	}
}

// Tracker exposes the status bookkeeping for the API layer.
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Stop asks the loop to halt at the next safe point: the in-flight attempt
// finishes, no new one starts. Safe to call from any goroutine, more than
// once.
func (o *Orchestrator) Stop(reason string) {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopReason = reason
		o.mu.Unlock()
		close(o.stopCh)
	})
}

// Run drives the loop until the context is cancelled, Stop is called, or a
// fatal condition (tripped breaker, low balance) ends it. Fatal conditions
// are returned so the process exits visibly.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.tracker.MarkStarted(ctx)
	o.logger.Info("orchestrator started",
		slog.Duration("tick_interval", o.cfg.TickInterval),
		slog.Int("circuit_threshold", o.cfg.CircuitThreshold))

	// First attempt immediately, the rest on the ticker.
	if err := o.Tick(ctx); err != nil {
		return o.halt(ctx, err)
	}

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.tracker.MarkStopped(ctx, "shutdown")
			o.logger.Info("orchestrator stopped", slog.String("reason", "shutdown"))
			return ctx.Err()

		case <-o.stopCh:
			o.mu.Lock()
			reason := o.stopReason
			o.mu.Unlock()
			o.tracker.MarkStopped(ctx, reason)
			o.logger.Info("orchestrator stopped", slog.String("reason", reason))
			o.notifyStop(ctx, nil, reason)
			return nil

		case <-ticker.C:
			if err := o.Tick(ctx); err != nil {
				return o.halt(ctx, err)
			}
		}
	}
}

// halt records a fatal stop and passes the error up.
func (o *Orchestrator) halt(ctx context.Context, err error) error {
	o.tracker.MarkStopped(ctx, err.Error())
	o.logger.Error("orchestrator stopped", slog.String("reason", err.Error()))
	o.notifyStop(ctx, err, err.Error())
	return err
}

// Tick runs a single scheduling pass. A call that lands while a previous
// attempt is still running is a safe no-op. The returned error is nil unless
// the loop must terminate.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if !o.inFlight.TryLock() {
		o.logger.Warn("tick skipped, previous attempt still in flight")
		return nil
	}
	defer o.inFlight.Unlock()

	return o.tick(ctx)
}

func (o *Orchestrator) tick(ctx context.Context) error {
	o.tracker.MarkTick(ctx)

	all, err := o.feeds.List(ctx)
	if err != nil {
		// A registry that stays unreachable walks the same breaker as
		// failing updates, so it cannot strand the loop silently.
		o.logger.Error("feed reload failed", slog.String("error", err.Error()))
		snap := o.tracker.RecordTickError(ctx)
		return o.checkBreaker(snap)
	}

	enabled := all[:0:0]
	for _, f := range all {
		if f.Enabled {
			enabled = append(enabled, f)
		}
	}
	if len(enabled) == 0 {
		o.logger.Debug("no enabled feeds")
		return nil
	}

	if err := o.updater.CheckFunds(ctx, enabled); err != nil {
		if errors.Is(err, domain.ErrLowBalance) {
			return err
		}
		// Transient RPC trouble; try again next tick.
		o.logger.Warn("balance check failed", slog.String("error", err.Error()))
		return nil
	}

	feed := o.nextFeed(enabled)
	attempt := o.updater.UpdateFeed(ctx, feed)
	snap := o.tracker.RecordAttempt(ctx, feed, attempt)
	o.notifyOutcome(ctx, feed, attempt)

	if ctx.Err() != nil {
		// Shutdown aborted the attempt; the Run select exits next. The
		// attempt row is already persisted, but it should not trip the
		// breaker on its way out.
		return nil
	}

	return o.checkBreaker(snap)
}

func (o *Orchestrator) checkBreaker(snap domain.OrchestratorStatus) error {
	if o.cfg.CircuitThreshold <= 0 {
		return nil
	}
	if snap.ConsecutiveFailures < uint64(o.cfg.CircuitThreshold) {
		return nil
	}
	return fmt.Errorf("updater: %d consecutive failures: %w",
		snap.ConsecutiveFailures, domain.ErrCircuitOpen)
}

// nextFeed advances the round-robin cursor. Guarded by inFlight.
func (o *Orchestrator) nextFeed(enabled []domain.Feed) domain.Feed {
	feed := enabled[o.cursor%len(enabled)]
	o.cursor++
	return feed
}

// RunOnce performs a single update attempt for one feed, outside the loop.
func (o *Orchestrator) RunOnce(ctx context.Context, feedID string) (domain.UpdateAttempt, error) {
	feed, err := o.feeds.Get(ctx, feedID)
	if err != nil {
		return domain.UpdateAttempt{}, fmt.Errorf("updater: feed %s: %w", feedID, err)
	}
	if !feed.Enabled {
		return domain.UpdateAttempt{}, fmt.Errorf("updater: feed %s is disabled", feedID)
	}

	if !o.inFlight.TryLock() {
		return domain.UpdateAttempt{}, fmt.Errorf("updater: an attempt is already in flight")
	}
	defer o.inFlight.Unlock()

	attempt := o.updater.UpdateFeed(ctx, feed)
	o.tracker.RecordAttempt(ctx, feed, attempt)
	o.notifyOutcome(ctx, feed, attempt)
	return attempt, nil
}

// RetryAttestation resumes the attestation pipeline for a previously
// recorded transaction. With an empty txHash the most recent attempt that
// produced a hash is used, which needs the attempt store.
func (o *Orchestrator) RetryAttestation(ctx context.Context, feedID, txHash string) (domain.UpdateAttempt, error) {
	feed, err := o.feeds.Get(ctx, feedID)
	if err != nil {
		return domain.UpdateAttempt{}, fmt.Errorf("updater: feed %s: %w", feedID, err)
	}

	var hash common.Hash
	if txHash != "" {
		hash = common.HexToHash(txHash)
	} else {
		if o.attempts == nil {
			return domain.UpdateAttempt{}, fmt.Errorf("updater: no attempt store configured, pass an explicit tx hash")
		}
		last, err := o.attempts.LastWithTx(ctx, feedID)
		if err != nil {
			return domain.UpdateAttempt{}, fmt.Errorf("updater: find last recorded tx for %s: %w", feedID, err)
		}
		hash = last.TxHash
		o.logger.Info("resuming most recent recorded transaction",
			slog.String("feed", feedID),
			slog.String("tx", hash.Hex()),
			slog.String("recorded_at", last.StartedAt.Format(time.RFC3339)))
	}
	if hash == (common.Hash{}) {
		return domain.UpdateAttempt{}, fmt.Errorf("updater: feed %s has no recorded transaction to resume", feedID)
	}

	if !o.inFlight.TryLock() {
		return domain.UpdateAttempt{}, fmt.Errorf("updater: an attempt is already in flight")
	}
	defer o.inFlight.Unlock()

	attempt := o.updater.ResumeAttestation(ctx, feed, hash)
	o.tracker.RecordAttempt(ctx, feed, attempt)
	o.notifyOutcome(ctx, feed, attempt)
	return attempt, nil
}

func (o *Orchestrator) notifyOutcome(ctx context.Context, feed domain.Feed, attempt domain.UpdateAttempt) {
	if o.notifier == nil {
		return
	}

	switch attempt.Outcome {
	case domain.OutcomeSuccess:
		msg := fmt.Sprintf("%s updated to %s (voting round %d, tx %s)",
			feed.DisplayName(), attempt.Price, attempt.VotingRound, attempt.TxHash.Hex())
		if err := o.notifier.Notify(ctx, "update_success", "Price update succeeded", msg); err != nil {
			o.logger.Warn("notification failed", slog.String("error", err.Error()))
		}

	case domain.OutcomeFailed:
		msg := fmt.Sprintf("%s failed in phase %s: %s",
			feed.DisplayName(), attempt.Phase, attempt.Error)
		if err := o.notifier.Notify(ctx, "update_failed", "Price update failed", msg); err != nil {
			o.logger.Warn("notification failed", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) notifyStop(ctx context.Context, cause error, reason string) {
	if o.notifier == nil {
		return
	}

	event, title := "stopped", "Updater stopped"
	switch {
	case errors.Is(cause, domain.ErrCircuitOpen):
		event, title = "circuit_open", "Circuit breaker tripped"
	case errors.Is(cause, domain.ErrLowBalance):
		event, title = "low_balance", "Wallet balance low"
	}

	if err := o.notifier.Notify(context.WithoutCancel(ctx), event, title, reason); err != nil {
		o.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}
