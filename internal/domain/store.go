package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FeedStore is the keyed feed registry the updater reads each tick. The
// updater itself never writes feeds; Upsert and SetEnabled exist for
// deployment tooling and tests.
type FeedStore interface {
	List(ctx context.Context) ([]Feed, error)
	Get(ctx context.Context, id string) (Feed, error)
	Upsert(ctx context.Context, feed Feed) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// AttemptStore persists the outcome of every update attempt. It is the
// durable record behind "retry without re-recording": a failed attempt keeps
// its transaction hash here.
type AttemptStore interface {
	Insert(ctx context.Context, attempt UpdateAttempt) (int64, error)
	ListByFeed(ctx context.Context, feedID string, opts ListOpts) ([]UpdateAttempt, error)
	ListBefore(ctx context.Context, before time.Time) ([]UpdateAttempt, error)

	// LastWithTx returns the most recent attempt for the feed that produced
	// a transaction hash, regardless of outcome.
	LastWithTx(ctx context.Context, feedID string) (UpdateAttempt, error)

	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
