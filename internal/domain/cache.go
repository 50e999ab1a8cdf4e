package domain

import (
	"context"
	"time"
)

// StatusCache provides fast access to the latest per-feed and global
// orchestrator status for the API layer. Implementations may be lossy; the
// attempt store is the durable record.
type StatusCache interface {
	SetFeedStatus(ctx context.Context, status FeedStatus) error
	GetFeedStatus(ctx context.Context, feedID string) (FeedStatus, error)
	ListFeedStatuses(ctx context.Context) ([]FeedStatus, error)
	SetOrchestratorStatus(ctx context.Context, status OrchestratorStatus) error
	GetOrchestratorStatus(ctx context.Context) (OrchestratorStatus, error)
}

// LockManager provides distributed locking. The updater holds a lock for the
// lifetime of the process so two instances never share one wallet.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides rate limiting for API clients.
type RateLimiter interface {
	// Allow returns true when a request under key fits the limit for the
	// window, counting the request.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
