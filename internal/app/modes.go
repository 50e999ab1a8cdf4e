package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/relaybot/internal/domain"
	"github.com/alanyoungcy/relaybot/internal/relay"
	"github.com/alanyoungcy/relaybot/internal/server"
	"github.com/alanyoungcy/relaybot/internal/server/handler"
	"github.com/alanyoungcy/relaybot/internal/server/ws"
	"github.com/alanyoungcy/relaybot/internal/updater"
)

// runLockKey is the distributed lock the transaction-sending modes hold so
// two processes never share one wallet's nonce space.
const runLockKey = "updater-run"

// serverShutdownTimeout bounds the graceful drain of in-flight requests.
const serverShutdownTimeout = 10 * time.Second

// UpdateMode runs the orchestrator loop alone: no HTTP surface, outcomes land
// in the stores, status cache and event bus as configured.
func (a *App) UpdateMode(ctx context.Context, deps *Dependencies) error {
	release, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	orch, err := a.buildOrchestrator(deps)
	if err != nil {
		return err
	}
	return a.runLoop(ctx, deps, orch)
}

// ServeMode runs the status API alone. Orchestrator and feed status come from
// the Redis mirrors when enabled, so a serve instance can report on an update
// process running elsewhere; without Redis the API still serves the feed
// registry and attempt history.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	srv, hub := a.buildServer(deps, serverDeps{
		status:     deps.Status,
		feedStatus: deps.Status,
		wsStatus:   deps.Status,
	})

	g, gctx := errgroup.WithContext(ctx)
	a.startServer(g, gctx, srv, hub)
	return g.Wait()
}

// OnceMode performs a single update attempt for the configured feed, then
// exits. The run lock still applies: a one-shot against a wallet some loop is
// using would race its nonces.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	release, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	orch, err := a.buildOrchestrator(deps)
	if err != nil {
		return err
	}

	attempt, err := orch.RunOnce(ctx, a.cfg.Retry.Feed)
	if err != nil {
		return err
	}
	return exitForOutcome(attempt)
}

// RetryMode resumes the attestation pipeline for an already-recorded
// transaction, then exits. Nothing is re-recorded.
func (a *App) RetryMode(ctx context.Context, deps *Dependencies) error {
	release, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	orch, err := a.buildOrchestrator(deps)
	if err != nil {
		return err
	}

	attempt, err := orch.RetryAttestation(ctx, a.cfg.Retry.Feed, a.cfg.Retry.TxHash)
	if err != nil {
		return err
	}
	return exitForOutcome(attempt)
}

// FullMode runs the orchestrator and the status API in one process. The API
// reads status straight from the in-process tracker and its stop endpoint
// targets the running loop. When the loop ends by operator request the API
// stays up, reporting the stopped state, until the process is signalled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	release, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer release()

	orch, err := a.buildOrchestrator(deps)
	if err != nil {
		return err
	}

	if !a.cfg.Server.Enabled {
		a.logger.Info("server disabled, running update loop only")
		return a.runLoop(ctx, deps, orch)
	}

	tracker := orch.Tracker()
	srv, hub := a.buildServer(deps, serverDeps{
		status:     tracker,
		feedStatus: tracker,
		wsStatus:   tracker,
		stopper:    orch,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runLoop(gctx, deps, orch) })
	a.startServer(g, gctx, srv, hub)
	return g.Wait()
}

// runLoop runs the orchestrator with the attempt-retention sweep, when one is
// wired, as a sidecar that stops when the loop returns.
func (a *App) runLoop(ctx context.Context, deps *Dependencies, orch *updater.Orchestrator) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ret := a.buildRetention(deps); ret != nil {
		go func() { _ = ret.Run(runCtx) }()
	}
	return orch.Run(runCtx)
}

// buildRetention wires the retention sweep when both an archive target and an
// attempt store exist.
func (a *App) buildRetention(deps *Dependencies) *updater.Retention {
	if deps.Archiver == nil || deps.Attempts == nil {
		return nil
	}
	return updater.NewRetention(deps.Archiver, deps.Attempts, a.cfg.S3.RetentionDays, a.logger)
}

// buildOrchestrator assembles the executor, tracker and orchestrator from the
// wired dependencies and the loop configuration.
func (a *App) buildOrchestrator(deps *Dependencies) (*updater.Orchestrator, error) {
	if deps.Key == nil || deps.Chains == nil {
		return nil, fmt.Errorf("app: mode %q needs chain connections and a wallet key", a.cfg.Mode)
	}

	exec := updater.NewExecutor(updater.ExecutorConfig{
		DestChain: a.cfg.Attestation.Chain,
		RelayParams: relay.Params{
			MaxPriceAge:      a.cfg.Relay.MaxPriceAge.Duration,
			MaxFutureSkew:    a.cfg.Relay.MaxFutureSkew.Duration,
			MinRelayInterval: a.cfg.Relay.MinRelayInterval.Duration,
			MaxDeviationBps:  uint64(a.cfg.Relay.MaxDeviationBps),
		},
		MinBalanceWei: minBalanceWei(a.cfg.Orchestrator.MinBalanceGwei),
	}, deps.Chains, deps.Attesters, deps.Key, deps.Archiver, a.logger)

	tracker := updater.NewTracker(deps.Attempts, deps.Audit, deps.Status, deps.Bus, a.logger)

	return updater.New(updater.Config{
		TickInterval:     a.cfg.Orchestrator.TickInterval.Duration,
		CircuitThreshold: a.cfg.Orchestrator.CircuitThreshold,
	}, exec, deps.Feeds, deps.Attempts, tracker, deps.Notifier, a.logger), nil
}

// serverDeps carries the mode-specific pieces of the HTTP surface: where
// status reads come from and what an operator stop should act on. In full
// mode all four point at the in-process orchestrator; in serve mode status
// comes from the Redis mirrors and there is nothing to stop.
type serverDeps struct {
	status     handler.StatusSource
	feedStatus handler.FeedStatusSource
	wsStatus   ws.StatusSource
	stopper    handler.Stopper
}

// buildServer assembles the HTTP handlers, WebSocket hub and server.
func (a *App) buildServer(deps *Dependencies, sd serverDeps) (*server.Server, *ws.Hub) {
	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(a.logger),
		Status:       handler.NewStatusHandler(a.cfg.Mode, sd.status, a.logger),
		Feeds:        handler.NewFeedHandler(deps.Feeds, deps.Feeds, sd.feedStatus, a.logger),
		Attempts:     handler.NewAttemptHandler(deps.Attempts, a.logger),
		Audit:        handler.NewAuditHandler(deps.Audit, a.logger),
		Orchestrator: handler.NewOrchestratorHandler(sd.stopper, a.logger),
	}

	hub := ws.NewHub(deps.Bus, sd.wsStatus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now(),
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	return srv, hub
}

// startServer launches the HTTP listener, the hub loop and a watcher that
// drains the server when the group context ends.
func (a *App) startServer(g *errgroup.Group, ctx context.Context, srv *server.Server, hub *ws.Hub) {
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// acquireRunLock takes the single-instance lock when Redis is wired; without
// Redis single-instance operation is the operator's responsibility. The
// returned release function is always safe to call.
func (a *App) acquireRunLock(ctx context.Context, deps *Dependencies) (func(), error) {
	if deps.Locks == nil {
		return func() {}, nil
	}

	unlock, err := deps.Locks.Acquire(ctx, runLockKey, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: another instance already holds the run lock: %w", err)
		}
		return nil, fmt.Errorf("app: acquire run lock: %w", err)
	}

	a.logger.InfoContext(ctx, "run lock acquired", slog.String("key", runLockKey))
	return unlock, nil
}

// exitForOutcome maps a one-shot attempt onto the process exit status, so
// cron jobs and operators see failures without parsing logs.
func exitForOutcome(attempt domain.UpdateAttempt) error {
	if attempt.Outcome == domain.OutcomeFailed {
		return fmt.Errorf("app: attempt failed in phase %s: %s", attempt.Phase, attempt.Error)
	}
	return nil
}

// minBalanceWei converts the configured gwei floor to wei; zero disables the
// balance check.
func minBalanceWei(gwei int64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(params.GWei))
}
