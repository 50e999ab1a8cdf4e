// Package attest drives the four-phase attestation pipeline: prepare the
// request with a source-chain verifier, submit it to the destination-chain
// hub, await voting round finality, and fetch the finalized proof from the
// data availability layer.
package attest

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// Verifier status values. Anything other than StatusValid means the verifier
// cannot build the request yet; StatusInvalid means it never will.
const (
	StatusValid   = "VALID"
	StatusInvalid = "INVALID"
)

// PrepareResult is one verifier answer during the prepare phase. Request is
// only populated when Status is StatusValid.
type PrepareResult struct {
	Status  string
	Request []byte
}

// Ready reports whether the verifier produced an encoded request.
func (r *PrepareResult) Ready() bool {
	return r.Status == StatusValid
}

// InclusionReceipt describes where an attestation request landed on the
// destination chain. The voting round is derived from Timestamp.
type InclusionReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   uint64
}

// Preparer asks a source chain's verifier to build an attestation request.
type Preparer interface {
	PrepareRequest(ctx context.Context, req domain.AttestationRequest) (*PrepareResult, error)
}

// Submitter pays for and lands the attestation request on chain.
type Submitter interface {
	RequestFee(ctx context.Context, request []byte) (*big.Int, error)
	RequestAttestation(ctx context.Context, request []byte, fee *big.Int) (InclusionReceipt, error)
}

// RoundRegistry reads voting round assignment and finality.
type RoundRegistry interface {
	VotingRoundOf(ctx context.Context, timestamp uint64) (uint64, error)
	IsFinalized(ctx context.Context, attestationType [32]byte, round uint64) (bool, error)
}

// ProofFetcher retrieves finalized proofs from the DA layer.
type ProofFetcher interface {
	ProofByRequestRound(ctx context.Context, round uint64, request []byte) (*domain.AttestationProof, error)
}

// TimeoutError reports an exhausted polling budget, naming the phase and the
// last observed state so a slow indexer can be told apart from a stuck one.
type TimeoutError struct {
	Phase      string
	LastStatus string
	Budget     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attest: %s phase exceeded %s budget (last status %q)", e.Phase, e.Budget, e.LastStatus)
}

// Config tunes the polling cadence and budgets of the pipeline phases.
type Config struct {
	// PrepareInterval paces verifier polling; PrepareBudget bounds it and
	// is sized per source chain (slow indexers need tens of minutes).
	PrepareInterval time.Duration
	PrepareBudget   time.Duration

	FinalityInterval time.Duration
	FinalityBudget   time.Duration

	// ProofSettleDelay is slept after finality before the proof fetch.
	ProofSettleDelay time.Duration

	// FallbackFee is attached to the request when the fee lookup fails.
	FallbackFee *big.Int
}

// Client runs attestations for transactions on one source chain. The
// pipeline never mutates source-chain state, so it is fully re-enterable:
// calling Attest again with the same hash restarts from the prepare phase
// without re-recording anything.
type Client struct {
	cfg       Config
	sourceID  string
	preparer  Preparer
	submitter Submitter
	registry  RoundRegistry
	fetcher   ProofFetcher
	logger    *slog.Logger
}

// New creates an attestation client for one source chain. sourceID is the
// verifier identifier of that chain, e.g. "ETH".
func New(cfg Config, sourceID string, preparer Preparer, submitter Submitter, registry RoundRegistry, fetcher ProofFetcher, logger *slog.Logger) *Client {
	return &Client{
		cfg:       cfg,
		sourceID:  sourceID,
		preparer:  preparer,
		submitter: submitter,
		registry:  registry,
		fetcher:   fetcher,
		logger:    logger.With(slog.String("component", "attest"), slog.String("source", sourceID)),
	}
}

// Attest runs the full pipeline for a transaction and returns the finalized
// proof.
func (c *Client) Attest(ctx context.Context, txHash common.Hash, confirmations uint16) (*domain.AttestationProof, error) {
	request, err := c.Prepare(ctx, txHash, confirmations)
	if err != nil {
		return nil, err
	}

	round, err := c.Submit(ctx, request)
	if err != nil {
		return nil, err
	}

	if err := c.AwaitFinality(ctx, round); err != nil {
		return nil, err
	}

	proof, err := c.FetchProof(ctx, round, request)
	if err != nil {
		return nil, err
	}

	if proof.Response.RequestBody.TransactionHash != txHash {
		return nil, fmt.Errorf("attest: proof is for %s, requested %s",
			proof.Response.RequestBody.TransactionHash.Hex(), txHash.Hex())
	}
	return proof, nil
}

// Prepare polls the verifier until it serves the ABI-encoded request, the
// budget runs out, or the verifier declares the transaction invalid.
func (c *Client) Prepare(ctx context.Context, txHash common.Hash, confirmations uint16) ([]byte, error) {
	req := domain.AttestationRequest{
		AttestationType:       TypeEVMTransaction,
		SourceID:              c.sourceID,
		TransactionHash:       txHash,
		RequiredConfirmations: confirmations,
	}

	deadline := time.Now().Add(c.cfg.PrepareBudget)
	ticker := time.NewTicker(c.cfg.PrepareInterval)
	defer ticker.Stop()

	lastStatus := "no response"
	for {
		result, err := c.preparer.PrepareRequest(ctx, req)
		switch {
		case err != nil:
			// Verifier restarts and transient network trouble are
			// expected over a budget this long; keep polling.
			c.logger.WarnContext(ctx, "prepare request failed",
				slog.String("tx", txHash.Hex()),
				slog.String("error", err.Error()))
			lastStatus = err.Error()
		case result.Status == StatusInvalid:
			return nil, fmt.Errorf("attest: verifier declared %s invalid", txHash.Hex())
		case result.Ready():
			return result.Request, nil
		default:
			lastStatus = result.Status
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{Phase: "prepare", LastStatus: lastStatus, Budget: c.cfg.PrepareBudget}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("attest: prepare %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Submit pays the request fee and lands the attestation request on the
// destination chain, returning the voting round it falls in. No internal
// retry: a failed submission surfaces to the caller.
func (c *Client) Submit(ctx context.Context, request []byte) (uint64, error) {
	fee, err := c.submitter.RequestFee(ctx, request)
	if err != nil {
		c.logger.WarnContext(ctx, "fee lookup failed, using fallback",
			slog.String("fallback_wei", c.cfg.FallbackFee.String()),
			slog.String("error", err.Error()))
		fee = new(big.Int).Set(c.cfg.FallbackFee)
	}

	receipt, err := c.submitter.RequestAttestation(ctx, request, fee)
	if err != nil {
		return 0, err
	}

	round, err := c.registry.VotingRoundOf(ctx, receipt.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("attest: voting round for timestamp %d: %w", receipt.Timestamp, err)
	}

	c.logger.InfoContext(ctx, "attestation request submitted",
		slog.String("tx", receipt.TxHash.Hex()),
		slog.Uint64("voting_round", round))
	return round, nil
}

// AwaitFinality polls the registry until the voting round finalizes, then
// sleeps the proof settle delay so the DA layer can serve the round.
func (c *Client) AwaitFinality(ctx context.Context, round uint64) error {
	attType := PadName(TypeEVMTransaction)
	deadline := time.Now().Add(c.cfg.FinalityBudget)
	ticker := time.NewTicker(c.cfg.FinalityInterval)
	defer ticker.Stop()

	for {
		final, err := c.registry.IsFinalized(ctx, attType, round)
		if err != nil {
			c.logger.WarnContext(ctx, "finality poll failed",
				slog.Uint64("voting_round", round),
				slog.String("error", err.Error()))
		} else if final {
			break
		}

		if time.Now().After(deadline) {
			return &TimeoutError{
				Phase:      "finality",
				LastStatus: fmt.Sprintf("round %d not finalized", round),
				Budget:     c.cfg.FinalityBudget,
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("attest: awaiting round %d: %w", round, ctx.Err())
		case <-ticker.C:
		}
	}

	if c.cfg.ProofSettleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ProofSettleDelay):
		}
	}
	return nil
}

// FetchProof retrieves the finalized proof and checks it belongs to the
// expected round. No internal retry.
func (c *Client) FetchProof(ctx context.Context, round uint64, request []byte) (*domain.AttestationProof, error) {
	proof, err := c.fetcher.ProofByRequestRound(ctx, round, request)
	if err != nil {
		return nil, err
	}
	if proof.Response.VotingRound != round {
		return nil, fmt.Errorf("attest: proof carries voting round %d, expected %d", proof.Response.VotingRound, round)
	}
	return proof, nil
}
