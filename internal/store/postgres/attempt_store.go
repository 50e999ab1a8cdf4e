package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptSelectCols = `id, job_id, feed_id, phase, outcome, tx_hash,
	voting_round, price, source_timestamp, clamped_timestamp, error,
	started_at, done_at`

func scanAttempt(row pgx.Row) (domain.UpdateAttempt, error) {
	var (
		a                 domain.UpdateAttempt
		phase, outcome    string
		txHash            string
		votingRound       int64
		sourceTS, clampTS int64
	)
	err := row.Scan(
		&a.ID, &a.JobID, &a.FeedID, &phase, &outcome, &txHash,
		&votingRound, &a.Price, &sourceTS, &clampTS, &a.Error,
		&a.StartedAt, &a.DoneAt,
	)
	if err != nil {
		return domain.UpdateAttempt{}, err
	}

	a.Phase = domain.UpdatePhase(phase)
	a.Outcome = domain.UpdateOutcome(outcome)
	if txHash != "" {
		a.TxHash = common.HexToHash(txHash)
	}
	a.VotingRound = uint64(votingRound)
	a.SourceTimestamp = uint64(sourceTS)
	a.ClampedTimestamp = uint64(clampTS)
	return a, nil
}

// Insert persists one finished attempt and returns its assigned ID.
func (s *AttemptStore) Insert(ctx context.Context, attempt domain.UpdateAttempt) (int64, error) {
	const query = `
		INSERT INTO update_attempts (
			job_id, feed_id, phase, outcome, tx_hash, voting_round, price,
			source_timestamp, clamped_timestamp, error, started_at, done_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	txHash := ""
	if attempt.TxHash != (common.Hash{}) {
		txHash = attempt.TxHash.Hex()
	}

	var id int64
	err := s.pool.QueryRow(ctx, query,
		attempt.JobID, attempt.FeedID, string(attempt.Phase), string(attempt.Outcome),
		txHash, int64(attempt.VotingRound), attempt.Price,
		int64(attempt.SourceTimestamp), int64(attempt.ClampedTimestamp),
		attempt.Error, attempt.StartedAt, attempt.DoneAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert attempt for feed %s: %w", attempt.FeedID, err)
	}
	return id, nil
}

// ListByFeed returns attempts for one feed, newest first.
func (s *AttemptStore) ListByFeed(ctx context.Context, feedID string, opts domain.ListOpts) ([]domain.UpdateAttempt, error) {
	query := `SELECT ` + attemptSelectCols + ` FROM update_attempts WHERE feed_id = $1`
	args := []any{feedID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND started_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts for feed %s: %w", feedID, err)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// ListBefore returns every attempt started before the cutoff, oldest first,
// so archival writes them in chronological order.
func (s *AttemptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.UpdateAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptSelectCols+` FROM update_attempts
		 WHERE started_at < $1 ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// LastWithTx returns the feed's most recent attempt that produced a
// transaction hash. Retry mode uses it to re-enter attestation without
// re-recording the price.
func (s *AttemptStore) LastWithTx(ctx context.Context, feedID string) (domain.UpdateAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptSelectCols+` FROM update_attempts
		 WHERE feed_id = $1 AND tx_hash <> ''
		 ORDER BY started_at DESC LIMIT 1`, feedID)

	a, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UpdateAttempt{}, fmt.Errorf("postgres: no attempt with tx for feed %s: %w", feedID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UpdateAttempt{}, fmt.Errorf("postgres: last attempt with tx for feed %s: %w", feedID, err)
	}
	return a, nil
}

// DeleteBefore removes attempts started before the cutoff and reports how
// many rows went away. Callers archive first.
func (s *AttemptStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM update_attempts WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete attempts before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectAttempts(rows pgx.Rows) ([]domain.UpdateAttempt, error) {
	var attempts []domain.UpdateAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: attempts rows: %w", err)
	}
	return attempts, nil
}
