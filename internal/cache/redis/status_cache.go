package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// StatusCache implements domain.StatusCache using Redis string keys holding
// JSON. Feed statuses live at "status:feed:{feedID}" with membership tracked
// in the set "status:feeds"; the global status lives at "status:orchestrator".
// Entries carry a TTL so a dead updater's status ages out instead of lying.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStatusCache creates a StatusCache backed by the given Client. A zero ttl
// keeps entries forever.
func NewStatusCache(c *Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: c.Underlying(), ttl: ttl}
}

const (
	orchestratorStatusKey = "status:orchestrator"
	feedStatusSetKey      = "status:feeds"
)

func feedStatusKey(feedID string) string {
	return "status:feed:" + feedID
}

// SetFeedStatus stores one feed's latest status and registers the feed in the
// membership set.
func (sc *StatusCache) SetFeedStatus(ctx context.Context, status domain.FeedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal feed status %s: %w", status.FeedID, err)
	}

	pipe := sc.rdb.Pipeline()
	pipe.Set(ctx, feedStatusKey(status.FeedID), data, sc.ttl)
	pipe.SAdd(ctx, feedStatusSetKey, status.FeedID)
	if sc.ttl > 0 {
		pipe.Expire(ctx, feedStatusSetKey, sc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set feed status %s: %w", status.FeedID, err)
	}
	return nil
}

// GetFeedStatus returns one feed's latest status. It returns
// domain.ErrNotFound when no status has been written or it has expired.
func (sc *StatusCache) GetFeedStatus(ctx context.Context, feedID string) (domain.FeedStatus, error) {
	data, err := sc.rdb.Get(ctx, feedStatusKey(feedID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.FeedStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FeedStatus{}, fmt.Errorf("redis: get feed status %s: %w", feedID, err)
	}

	var status domain.FeedStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.FeedStatus{}, fmt.Errorf("redis: unmarshal feed status %s: %w", feedID, err)
	}
	return status, nil
}

// ListFeedStatuses returns the status of every feed in the membership set,
// ordered by feed ID. Feeds whose entries expired are silently omitted.
func (sc *StatusCache) ListFeedStatuses(ctx context.Context) ([]domain.FeedStatus, error) {
	ids, err := sc.rdb.SMembers(ctx, feedStatusSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list feed status ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	pipe := sc.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, feedStatusKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list feed statuses pipeline: %w", err)
	}

	statuses := make([]domain.FeedStatus, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var status domain.FeedStatus
		if err := json.Unmarshal(data, &status); err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// SetOrchestratorStatus stores the global update-loop status.
func (sc *StatusCache) SetOrchestratorStatus(ctx context.Context, status domain.OrchestratorStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal orchestrator status: %w", err)
	}
	if err := sc.rdb.Set(ctx, orchestratorStatusKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set orchestrator status: %w", err)
	}
	return nil
}

// GetOrchestratorStatus returns the global update-loop status. It returns
// domain.ErrNotFound when no updater has written one or it has expired.
func (sc *StatusCache) GetOrchestratorStatus(ctx context.Context) (domain.OrchestratorStatus, error) {
	data, err := sc.rdb.Get(ctx, orchestratorStatusKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrchestratorStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrchestratorStatus{}, fmt.Errorf("redis: get orchestrator status: %w", err)
	}

	var status domain.OrchestratorStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.OrchestratorStatus{}, fmt.Errorf("redis: unmarshal orchestrator status: %w", err)
	}
	return status, nil
}

// Compile-time interface check.
var _ domain.StatusCache = (*StatusCache)(nil)
