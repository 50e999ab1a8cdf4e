package domain

import (
	"context"
	"time"
)

// Pub/sub channels carried by the event bus.
const (
	// ChannelUpdates carries one UpdateEvent per finished attempt.
	ChannelUpdates = "updates"

	// ChannelStatus carries a StatusEvent whenever the orchestrator's
	// global state changes.
	ChannelStatus = "status"
)

// EventBus fans orchestrator events out to subscribers, primarily the
// WebSocket hub. The Redis implementation crosses process boundaries so a
// serve-mode instance can stream events from a separate update process; the
// in-memory one covers single-process deployments.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel that emits raw payloads until ctx is
	// cancelled, at which point it is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// UpdateEvent is the JSON envelope published on ChannelUpdates after every
// update attempt, successful or not.
type UpdateEvent struct {
	Type        string        `json:"type"` // always "update"
	FeedID      string        `json:"feed_id"`
	Alias       string        `json:"alias,omitempty"`
	Outcome     UpdateOutcome `json:"outcome"`
	Phase       UpdatePhase   `json:"phase"`
	Price       string        `json:"price,omitempty"`
	TxHash      string        `json:"tx_hash,omitempty"`
	VotingRound uint64        `json:"voting_round,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}

// StatusEvent is the JSON envelope published on ChannelStatus.
type StatusEvent struct {
	Type   string             `json:"type"` // always "status"
	Status OrchestratorStatus `json:"status"`
}
