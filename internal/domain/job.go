package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UpdatePhase names how far an update attempt progressed before it finished
// or failed.
type UpdatePhase string

const (
	PhaseEligibility   UpdatePhase = "eligibility"
	PhaseRecord        UpdatePhase = "record"
	PhaseRelay         UpdatePhase = "relay"
	PhaseAttestPrepare UpdatePhase = "attest_prepare"
	PhaseAttestSubmit  UpdatePhase = "attest_submit"
	PhaseAttestFinal   UpdatePhase = "attest_finality"
	PhaseAttestProof   UpdatePhase = "attest_proof"
	PhaseProofSubmit   UpdatePhase = "proof_submit"
	PhaseVerify        UpdatePhase = "verify"
)

// UpdateOutcome is the terminal result of one attempt.
type UpdateOutcome string

const (
	OutcomeSuccess UpdateOutcome = "success"
	OutcomeSkipped UpdateOutcome = "skipped"
	OutcomeFailed  UpdateOutcome = "failed"
)

// UpdateJob is the unit of work between a successful record/relay step and
// proof submission: the transaction to attest and the chain the attestation
// must target. The job survives attempt failures through the attempt store so
// a manual retry can re-enter the attestation pipeline with the same hash
// instead of re-recording.
type UpdateJob struct {
	ID            string
	Feed          Feed
	TxHash        common.Hash
	AttestChainID uint64

	// DisplayPrice is the human-readable converted price, for logging only.
	DisplayPrice string

	CreatedAt time.Time
}

// UpdateAttempt is the persisted outcome of one orchestrator attempt,
// successful or not.
type UpdateAttempt struct {
	ID          int64
	JobID       string
	FeedID      string
	Phase       UpdatePhase
	Outcome     UpdateOutcome
	TxHash      common.Hash
	VotingRound uint64
	Price       string

	// SourceTimestamp and ClampedTimestamp record the relay-path clamp when
	// it fires; both zero otherwise.
	SourceTimestamp  uint64
	ClampedTimestamp uint64

	Error     string
	StartedAt time.Time
	DoneAt    time.Time
}
