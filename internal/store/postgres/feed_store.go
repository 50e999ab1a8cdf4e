package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// FeedStore implements domain.FeedStore using PostgreSQL.
type FeedStore struct {
	pool *pgxpool.Pool
}

// NewFeedStore creates a new FeedStore backed by the given connection pool.
func NewFeedStore(pool *pgxpool.Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

const feedSelectCols = `id, alias, source_chain_id, trust, pool_address, feed_contract,
	recorder_contract, relay_contract, token0_decimals, token1_decimals,
	invert_price, enabled, created_at, updated_at`

func scanFeed(row pgx.Row) (domain.Feed, error) {
	var (
		f                              domain.Feed
		sourceChainID                  int64
		trust                          string
		pool, feedC, recorderC, relayC string
		token0Decimals, token1Decimals int16
	)
	err := row.Scan(
		&f.ID, &f.Alias, &sourceChainID, &trust, &pool, &feedC,
		&recorderC, &relayC, &token0Decimals, &token1Decimals,
		&f.InvertPrice, &f.Enabled, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return domain.Feed{}, err
	}

	f.SourceChainID = uint64(sourceChainID)
	f.Trust = domain.TrustKind(trust)
	f.PoolAddress = common.HexToAddress(pool)
	f.FeedContract = common.HexToAddress(feedC)
	if recorderC != "" {
		f.RecorderContract = common.HexToAddress(recorderC)
	}
	if relayC != "" {
		f.RelayContract = common.HexToAddress(relayC)
	}
	f.Token0Decimals = uint8(token0Decimals)
	f.Token1Decimals = uint8(token1Decimals)
	return f, nil
}

// List returns every feed, ordered by ID so the round-robin rotation is
// stable across reloads.
func (s *FeedStore) List(ctx context.Context) ([]domain.Feed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+feedSelectCols+` FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []domain.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list feeds rows: %w", err)
	}
	return feeds, nil
}

// Get returns a single feed by ID.
func (s *FeedStore) Get(ctx context.Context, id string) (domain.Feed, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+feedSelectCols+` FROM feeds WHERE id = $1`, id)

	f, err := scanFeed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Feed{}, fmt.Errorf("postgres: feed %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Feed{}, fmt.Errorf("postgres: get feed %s: %w", id, err)
	}
	return f, nil
}

// Upsert inserts or updates a feed row. Deployment tooling and config
// seeding are the only writers.
func (s *FeedStore) Upsert(ctx context.Context, feed domain.Feed) error {
	if err := feed.Validate(); err != nil {
		return fmt.Errorf("postgres: upsert feed: %w", err)
	}

	const query = `
		INSERT INTO feeds (
			id, alias, source_chain_id, trust, pool_address, feed_contract,
			recorder_contract, relay_contract, token0_decimals, token1_decimals,
			invert_price, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			alias             = EXCLUDED.alias,
			source_chain_id   = EXCLUDED.source_chain_id,
			trust             = EXCLUDED.trust,
			pool_address      = EXCLUDED.pool_address,
			feed_contract     = EXCLUDED.feed_contract,
			recorder_contract = EXCLUDED.recorder_contract,
			relay_contract    = EXCLUDED.relay_contract,
			token0_decimals   = EXCLUDED.token0_decimals,
			token1_decimals   = EXCLUDED.token1_decimals,
			invert_price      = EXCLUDED.invert_price,
			enabled           = EXCLUDED.enabled,
			updated_at        = NOW()`

	recorder := ""
	if feed.RecorderContract != (common.Address{}) {
		recorder = feed.RecorderContract.Hex()
	}
	relayAddr := ""
	if feed.RelayContract != (common.Address{}) {
		relayAddr = feed.RelayContract.Hex()
	}

	_, err := s.pool.Exec(ctx, query,
		feed.ID, feed.Alias, int64(feed.SourceChainID), string(feed.Trust),
		feed.PoolAddress.Hex(), feed.FeedContract.Hex(),
		recorder, relayAddr,
		int16(feed.Token0Decimals), int16(feed.Token1Decimals),
		feed.InvertPrice, feed.Enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert feed %s: %w", feed.ID, err)
	}
	return nil
}

// SetEnabled flips a feed in or out of the rotation.
func (s *FeedStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feeds SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("postgres: set feed %s enabled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: feed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
