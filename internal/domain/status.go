package domain

import "time"

// RunState is the orchestrator lifecycle state surfaced to operators.
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"

	// RunStateStopped is terminal: the circuit breaker tripped, the wallet
	// ran low, or an operator stopped the loop. It requires intervention.
	RunStateStopped RunState = "stopped"
)

// OrchestratorStatus is the global view of the update loop.
type OrchestratorStatus struct {
	State               RunState  `json:"state"`
	StartedAt           time.Time `json:"started_at"`
	Ticks               uint64    `json:"ticks"`
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	StopReason          string    `json:"stop_reason,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// FeedStatus is the per-feed counter set surfaced by the status API.
type FeedStatus struct {
	FeedID              string        `json:"feed_id"`
	Alias               string        `json:"alias"`
	LastOutcome         UpdateOutcome `json:"last_outcome,omitempty"`
	LastPrice           string        `json:"last_price,omitempty"`
	LastTxHash          string        `json:"last_tx_hash,omitempty"`
	LastVotingRound     uint64        `json:"last_voting_round,omitempty"`
	Successes           uint64        `json:"successes"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	LastAttemptAt       time.Time     `json:"last_attempt_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
}
