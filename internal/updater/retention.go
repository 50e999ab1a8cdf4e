package updater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// sweepInterval is how often the retention sweep looks for aged attempt rows.
// The archive files are named by month, so the cadence only affects how
// promptly rows leave the primary store.
const sweepInterval = 24 * time.Hour

// Retention ships attempt rows older than the retention window to blob
// storage and deletes them from the primary store afterwards. Rows are only
// deleted once their archive upload succeeded.
type Retention struct {
	archiver domain.Archiver
	attempts domain.AttemptStore
	window   time.Duration
	logger   *slog.Logger
}

// NewRetention creates a Retention sweeping rows older than retentionDays.
func NewRetention(archiver domain.Archiver, attempts domain.AttemptStore, retentionDays int, logger *slog.Logger) *Retention {
	return &Retention{
		archiver: archiver,
		attempts: attempts,
		window:   time.Duration(retentionDays) * 24 * time.Hour,
		logger:   logger.With(slog.String("component", "retention")),
	}
}

// Run sweeps once immediately and then on a fixed interval until ctx is
// cancelled. Sweep failures are logged and retried on the next interval.
func (r *Retention) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		if err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep performs one archive-then-delete pass. A failed upload leaves every
// row in place for the next sweep; a clean pass with nothing old enough to
// archive deletes nothing.
func (r *Retention) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.window)

	archived, err := r.archiver.ArchiveAttempts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("updater: archive attempts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if archived == 0 {
		return nil
	}

	deleted, err := r.attempts.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("updater: delete archived attempts: %w", err)
	}

	r.logger.Info("attempt history archived",
		slog.Time("cutoff", cutoff),
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted))
	return nil
}
