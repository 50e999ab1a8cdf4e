package updater

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/relaybot/internal/attest"
	"github.com/alanyoungcy/relaybot/internal/chain"
	"github.com/alanyoungcy/relaybot/internal/contracts"
	"github.com/alanyoungcy/relaybot/internal/domain"
	"github.com/alanyoungcy/relaybot/internal/pricemath"
	"github.com/alanyoungcy/relaybot/internal/relay"
)

// skipped marks conditions that defer an update to a later tick instead of
// failing it: high gas, a relay interval that has not elapsed yet, a recorder
// that is not due. Skips never feed the circuit breaker.
type skipped struct {
	reason string
}

func (s *skipped) Error() string { return s.reason }

// ExecutorConfig carries the per-process knobs of the executor.
type ExecutorConfig struct {
	// DestChain is the chain registry key of the destination chain, where
	// relay, feed, hub and registry contracts live.
	DestChain string

	// RelayParams drive the preflight validation of relay-path
	// observations. They mirror the deployed relay contract's parameters.
	RelayParams relay.Params

	// MinBalanceWei stops the process when the wallet balance on any
	// gas-spending chain falls below it. Nil or zero disables the check.
	MinBalanceWei *big.Int
}

// Executor performs the chain work of a single update attempt: the
// record-or-relay step, the four attestation phases and the proof
// submission. It holds no scheduling state; the orchestrator decides when
// and for which feed it runs.
type Executor struct {
	cfg       ExecutorConfig
	chains    *chain.Registry
	attesters map[uint64]*attest.Client
	key       *ecdsa.PrivateKey
	wallet    common.Address
	archiver  domain.Archiver
	logger    *slog.Logger
}

// NewExecutor creates an Executor. attesters maps chain IDs to the
// attestation client for transactions on that chain; archiver may be nil.
func NewExecutor(cfg ExecutorConfig, chains *chain.Registry, attesters map[uint64]*attest.Client, key *ecdsa.PrivateKey, archiver domain.Archiver, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		chains:    chains,
		attesters: attesters,
		key:       key,
		wallet:    ethcrypto.PubkeyToAddress(key.PublicKey),
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Wallet returns the update wallet address.
func (e *Executor) Wallet() common.Address { return e.wallet }

// UpdateFeed runs one full update attempt for the feed and reports what
// happened. It never panics the loop: every failure mode lands in the
// returned attempt's outcome and error text.
func (e *Executor) UpdateFeed(ctx context.Context, feed domain.Feed) domain.UpdateAttempt {
	attempt := e.newAttempt(feed)
	err := e.execute(ctx, feed, &attempt)
	e.finish(feed, &attempt, err)
	return attempt
}

// ResumeAttestation re-enters the pipeline at the prepare phase for an
// already-recorded transaction. Nothing is re-recorded; the preserved hash is
// attested and its proof submitted as usual.
func (e *Executor) ResumeAttestation(ctx context.Context, feed domain.Feed, txHash common.Hash) domain.UpdateAttempt {
	attempt := e.newAttempt(feed)
	attempt.TxHash = txHash

	err := func() error {
		dest, err := e.chains.Get(e.cfg.DestChain)
		if err != nil {
			return err
		}

		attestChainID := feed.SourceChainID
		if feed.Trust == domain.TrustRelay {
			attestChainID = dest.ChainID()
		}

		job := domain.UpdateJob{
			ID:            attempt.JobID,
			Feed:          feed,
			TxHash:        txHash,
			AttestChainID: attestChainID,
			CreatedAt:     attempt.StartedAt,
		}

		proof, err := e.attest(ctx, job, &attempt)
		if err != nil {
			return err
		}
		if err := e.submitProof(ctx, dest, feed, proof, &attempt); err != nil {
			return err
		}
		e.verify(ctx, dest, feed, &attempt)
		return nil
	}()

	e.finish(feed, &attempt, err)
	return attempt
}

// CheckFunds verifies the wallet balance on every chain the given feeds
// spend gas on: the destination chain always, plus the source chain of each
// direct feed. It returns domain.ErrLowBalance (wrapped) when any balance is
// below the configured minimum.
func (e *Executor) CheckFunds(ctx context.Context, feeds []domain.Feed) error {
	if e.cfg.MinBalanceWei == nil || e.cfg.MinBalanceWei.Sign() <= 0 {
		return nil
	}

	dest, err := e.chains.Get(e.cfg.DestChain)
	if err != nil {
		return err
	}

	spending := map[uint64]*chain.Client{dest.ChainID(): dest}
	for _, f := range feeds {
		if f.Trust != domain.TrustDirect {
			continue
		}
		src, err := e.chains.ByChainID(f.SourceChainID)
		if err != nil {
			return err
		}
		spending[src.ChainID()] = src
	}

	for _, c := range spending {
		bal, err := c.Balance(ctx, e.wallet)
		if err != nil {
			return err
		}
		if bal.Cmp(e.cfg.MinBalanceWei) < 0 {
			return fmt.Errorf("updater: %s balance %s wei below minimum %s: %w",
				c.Key(), bal, e.cfg.MinBalanceWei, domain.ErrLowBalance)
		}
	}
	return nil
}

func (e *Executor) newAttempt(feed domain.Feed) domain.UpdateAttempt {
	return domain.UpdateAttempt{
		JobID:     uuid.NewString(),
		FeedID:    feed.ID,
		Phase:     domain.PhaseEligibility,
		StartedAt: time.Now().UTC(),
	}
}

// finish stamps the attempt with its terminal outcome.
func (e *Executor) finish(feed domain.Feed, attempt *domain.UpdateAttempt, err error) {
	attempt.DoneAt = time.Now().UTC()

	var skip *skipped
	switch {
	case err == nil:
		attempt.Outcome = domain.OutcomeSuccess
		e.logger.Info("update succeeded",
			slog.String("feed", feed.DisplayName()),
			slog.String("price", attempt.Price),
			slog.String("tx", attempt.TxHash.Hex()),
			slog.Uint64("voting_round", attempt.VotingRound),
			slog.Duration("took", attempt.DoneAt.Sub(attempt.StartedAt)))

	case errors.As(err, &skip):
		attempt.Outcome = domain.OutcomeSkipped
		attempt.Error = skip.reason
		e.logger.Info("update skipped",
			slog.String("feed", feed.DisplayName()),
			slog.String("phase", string(attempt.Phase)),
			slog.String("reason", skip.reason))

	default:
		attempt.Outcome = domain.OutcomeFailed
		attempt.Error = err.Error()
		e.logger.Error("update failed",
			slog.String("feed", feed.DisplayName()),
			slog.String("phase", string(attempt.Phase)),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) execute(ctx context.Context, feed domain.Feed, attempt *domain.UpdateAttempt) error {
	if err := feed.Validate(); err != nil {
		return err
	}

	dest, err := e.chains.Get(e.cfg.DestChain)
	if err != nil {
		return err
	}

	var job *domain.UpdateJob
	switch feed.Trust {
	case domain.TrustDirect:
		job, err = e.recordDirect(ctx, feed, attempt)
	case domain.TrustRelay:
		job, err = e.relayObservation(ctx, dest, feed, attempt)
	default:
		return fmt.Errorf("updater: feed %s: unknown trust kind %q", feed.ID, feed.Trust)
	}
	if err != nil {
		return err
	}

	proof, err := e.attest(ctx, *job, attempt)
	if err != nil {
		return err
	}

	if err := e.submitProof(ctx, dest, feed, proof, attempt); err != nil {
		return err
	}

	e.verify(ctx, dest, feed, attempt)
	return nil
}

// recordDirect drives the direct trust path: poke the source-chain recorder
// so it emits a fresh observation, then attest that transaction.
func (e *Executor) recordDirect(ctx context.Context, feed domain.Feed, attempt *domain.UpdateAttempt) (*domain.UpdateJob, error) {
	src, err := e.chains.ByChainID(feed.SourceChainID)
	if err != nil {
		return nil, err
	}
	recorder := contracts.NewRecorder(feed.RecorderContract)

	attempt.Phase = domain.PhaseEligibility
	due, err := recorder.CanUpdate(ctx, src.Caller(), feed.PoolAddress)
	if err != nil {
		return nil, err
	}
	if !due {
		return nil, &skipped{reason: "recorder update interval not elapsed"}
	}

	if err := src.CheckGasCeiling(ctx); err != nil {
		if errors.Is(err, domain.ErrGasTooHigh) {
			return nil, &skipped{reason: err.Error()}
		}
		return nil, err
	}

	// Informational only: the recorded observation is whatever the recorder
	// reads at inclusion time, but the current price makes the logs and the
	// attempt row meaningful.
	if obs, oerr := e.observe(ctx, src, feed); oerr == nil {
		attempt.Price = e.displayPrice(feed, obs)
	}

	attempt.Phase = domain.PhaseRecord
	data, err := recorder.PackRecordPrice(feed.PoolAddress)
	if err != nil {
		return nil, err
	}
	tx, err := src.SendTx(ctx, chain.TxOpts{Key: e.key, To: recorder.Address(), Data: data})
	if err != nil {
		return nil, err
	}
	attempt.TxHash = tx.Hash()

	receipt, err := src.WaitConfirmed(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, e.revertError(ctx, src, tx, receipt, "record")
	}
	if err := src.Settle(ctx); err != nil {
		return nil, err
	}

	return &domain.UpdateJob{
		ID:            attempt.JobID,
		Feed:          feed,
		TxHash:        tx.Hash(),
		AttestChainID: src.ChainID(),
		DisplayPrice:  attempt.Price,
		CreatedAt:     attempt.StartedAt,
	}, nil
}

// relayObservation drives the relay trust path: read the pool on the source
// chain, reproduce the observation through the destination-chain relay
// contract, then attest the relay transaction.
func (e *Executor) relayObservation(ctx context.Context, dest *chain.Client, feed domain.Feed, attempt *domain.UpdateAttempt) (*domain.UpdateJob, error) {
	src, err := e.chains.ByChainID(feed.SourceChainID)
	if err != nil {
		return nil, err
	}
	binding := relay.NewBinding(feed.RelayContract)

	attempt.Phase = domain.PhaseEligibility
	ok, err := binding.CanRelay(ctx, dest.Caller(), feed.SourceChainID, feed.PoolAddress)
	if err != nil {
		return nil, err
	}
	if !ok {
		reason := "relay not accepting updates for this pool"
		if wait, werr := binding.TimeUntilNextRelay(ctx, dest.Caller(), feed.SourceChainID, feed.PoolAddress); werr == nil && wait > 0 {
			reason = fmt.Sprintf("relay interval not elapsed, next window in %s", wait.Round(time.Second))
		}
		return nil, &skipped{reason: reason}
	}

	obs, err := e.observe(ctx, src, feed)
	if err != nil {
		return nil, err
	}
	attempt.Price = e.displayPrice(feed, obs)

	destHead, err := dest.Head(ctx)
	if err != nil {
		return nil, err
	}
	if orig, clamped := clampTimestamp(&obs, destHead.Time); clamped {
		attempt.SourceTimestamp = orig
		attempt.ClampedTimestamp = obs.SourceTimestamp
		e.logger.Warn("source timestamp ahead of destination clock, clamping",
			slog.String("feed", feed.DisplayName()),
			slog.Uint64("source_timestamp", orig),
			slog.Uint64("destination_time", destHead.Time))
	}

	// Gas-free preflight against the contract's own pool state; a rejection
	// here is the same rejection the transaction would revert with.
	pc, err := binding.PoolConfigOf(ctx, dest.Caller(), feed.SourceChainID, feed.PoolAddress)
	if err != nil {
		return nil, err
	}
	if err := relay.Validate(pc, e.cfg.RelayParams, obs, time.Unix(int64(destHead.Time), 0)); err != nil {
		return nil, fmt.Errorf("updater: relay preflight: %w", err)
	}

	if err := dest.CheckGasCeiling(ctx); err != nil {
		if errors.Is(err, domain.ErrGasTooHigh) {
			return nil, &skipped{reason: err.Error()}
		}
		return nil, err
	}

	attempt.Phase = domain.PhaseRelay
	data, err := binding.PackRelayPrice(obs)
	if err != nil {
		return nil, err
	}
	tx, err := dest.SendTx(ctx, chain.TxOpts{Key: e.key, To: binding.Address(), Data: data})
	if err != nil {
		return nil, err
	}
	attempt.TxHash = tx.Hash()

	receipt, err := dest.WaitConfirmed(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, e.revertError(ctx, dest, tx, receipt, "relay")
	}
	if err := dest.Settle(ctx); err != nil {
		return nil, err
	}

	return &domain.UpdateJob{
		ID:            attempt.JobID,
		Feed:          feed,
		TxHash:        tx.Hash(),
		AttestChainID: dest.ChainID(),
		DisplayPrice:  attempt.Price,
		CreatedAt:     attempt.StartedAt,
	}, nil
}

// observe reads one consistent pool snapshot pinned at the source chain head.
func (e *Executor) observe(ctx context.Context, src *chain.Client, feed domain.Feed) (domain.Observation, error) {
	head, err := src.Head(ctx)
	if err != nil {
		return domain.Observation{}, err
	}

	state, err := contracts.NewPool(feed.PoolAddress).State(ctx, src.Caller(), head.Number)
	if err != nil {
		return domain.Observation{}, err
	}

	return domain.Observation{
		SourceChainID:     feed.SourceChainID,
		Pool:              feed.PoolAddress,
		SqrtPriceX96:      state.SqrtPriceX96,
		Tick:              state.Tick,
		Liquidity:         state.Liquidity,
		Token0:            state.Token0,
		Token1:            state.Token1,
		SourceTimestamp:   head.Time,
		SourceBlockNumber: head.Number.Uint64(),
	}, nil
}

// displayPrice converts an observation to the human-readable price string.
func (e *Executor) displayPrice(feed domain.Feed, obs domain.Observation) string {
	price, err := pricemath.Price(obs.SqrtPriceX96, feed.Token0Decimals, feed.Token1Decimals, feed.InvertPrice)
	if err != nil {
		return ""
	}
	return pricemath.Format(price)
}

// attest walks the four attestation phases for the job's transaction,
// advancing the attempt's phase marker so a failed attempt records exactly
// how far it got.
func (e *Executor) attest(ctx context.Context, job domain.UpdateJob, attempt *domain.UpdateAttempt) (*domain.AttestationProof, error) {
	att, ok := e.attesters[job.AttestChainID]
	if !ok {
		return nil, fmt.Errorf("updater: no attestation client for chain %d", job.AttestChainID)
	}
	attestedOn, err := e.chains.ByChainID(job.AttestChainID)
	if err != nil {
		return nil, err
	}

	attempt.Phase = domain.PhaseAttestPrepare
	request, err := att.Prepare(ctx, job.TxHash, attestedOn.Confirmations())
	if err != nil {
		return nil, err
	}

	attempt.Phase = domain.PhaseAttestSubmit
	round, err := att.Submit(ctx, request)
	if err != nil {
		return nil, err
	}
	attempt.VotingRound = round

	attempt.Phase = domain.PhaseAttestFinal
	if err := att.AwaitFinality(ctx, round); err != nil {
		return nil, err
	}

	attempt.Phase = domain.PhaseAttestProof
	proof, err := att.FetchProof(ctx, round, request)
	if err != nil {
		return nil, err
	}
	if got := proof.Response.RequestBody.TransactionHash; got != job.TxHash {
		return nil, fmt.Errorf("updater: proof is for %s, requested %s", got.Hex(), job.TxHash.Hex())
	}
	return proof, nil
}

// submitProof delivers the finalized proof to the destination feed contract.
func (e *Executor) submitProof(ctx context.Context, dest *chain.Client, feed domain.Feed, proof *domain.AttestationProof, attempt *domain.UpdateAttempt) error {
	attempt.Phase = domain.PhaseProofSubmit

	feedContract := contracts.NewFeed(feed.FeedContract)
	data, err := feedContract.PackUpdatePrice(proof)
	if err != nil {
		return err
	}

	tx, err := dest.SendTx(ctx, chain.TxOpts{Key: e.key, To: feedContract.Address(), Data: data})
	if err != nil {
		return err
	}
	receipt, err := dest.WaitConfirmed(ctx, tx.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return e.revertError(ctx, dest, tx, receipt, "proof submit")
	}

	e.logger.Info("proof submitted",
		slog.String("feed", feed.DisplayName()),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("voting_round", proof.VotingRound()))

	if e.archiver != nil {
		// The update already landed; archive trouble must not fail it.
		path, aerr := e.archiver.ArchiveProof(context.WithoutCancel(ctx), feed.ID, *proof)
		if aerr != nil {
			e.logger.Warn("proof archive failed",
				slog.String("feed", feed.ID),
				slog.String("error", aerr.Error()))
		} else {
			e.logger.Debug("proof archived", slog.String("path", path))
		}
	}
	return nil
}

// verify reads the feed's published state back after a submission. The
// update already succeeded on-chain, so a failed read only warns.
func (e *Executor) verify(ctx context.Context, dest *chain.Client, feed domain.Feed, attempt *domain.UpdateAttempt) {
	attempt.Phase = domain.PhaseVerify

	latest, err := contracts.NewFeed(feed.FeedContract).Latest(ctx, dest.Caller())
	if err != nil {
		e.logger.Warn("post-update read-back failed",
			slog.String("feed", feed.DisplayName()),
			slog.String("error", err.Error()))
		return
	}

	e.logger.Info("feed state confirmed",
		slog.String("feed", feed.DisplayName()),
		slog.String("price", pricemath.Format(latest.Price)),
		slog.Uint64("timestamp", latest.Timestamp),
		slog.Uint64("update_count", latest.UpdateCount))
}

// revertError replays a landed-but-reverted transaction to recover the revert
// reason, mapping known relay reasons onto their sentinels.
func (e *Executor) revertError(ctx context.Context, c *chain.Client, tx *types.Transaction, receipt *types.Receipt, action string) error {
	reason, err := c.ReplayRevertReason(ctx, tx, e.wallet, receipt.BlockNumber)
	if err != nil {
		return fmt.Errorf("updater: %s tx %s reverted (reason unavailable)", action, tx.Hash().Hex())
	}
	return fmt.Errorf("updater: %s tx %s reverted: %w", action, tx.Hash().Hex(), relay.MapRevert(reason))
}

// clampTimestamp caps a source timestamp that runs ahead of the destination
// clock, which would otherwise trip the contract's future-timestamp check.
// It returns the original value and whether the clamp fired.
func clampTimestamp(obs *domain.Observation, destTime uint64) (uint64, bool) {
	if obs.SourceTimestamp <= destTime {
		return 0, false
	}
	orig := obs.SourceTimestamp
	obs.SourceTimestamp = destTime
	return orig, true
}
