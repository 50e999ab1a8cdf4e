// Package static provides an in-memory feed registry for deployments that
// run without PostgreSQL. Feeds come from the config file at startup; Upsert
// and SetEnabled mutate only the process's copy.
package static

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// FeedStore implements domain.FeedStore over a config-seeded map.
type FeedStore struct {
	mu    sync.RWMutex
	feeds map[string]domain.Feed
}

// NewFeedStore builds a store from the configured feeds. Invalid feeds are
// rejected up front so a bad config fails at startup, not mid-rotation.
func NewFeedStore(feeds []domain.Feed) (*FeedStore, error) {
	m := make(map[string]domain.Feed, len(feeds))
	for _, f := range feeds {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("static: %w", err)
		}
		if _, ok := m[f.ID]; ok {
			return nil, fmt.Errorf("static: duplicate feed id %s", f.ID)
		}
		m[f.ID] = f
	}
	return &FeedStore{feeds: m}, nil
}

// List returns every feed ordered by ID, matching the database-backed store
// so rotation order does not depend on which registry is wired.
func (s *FeedStore) List(ctx context.Context) ([]domain.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a single feed by ID.
func (s *FeedStore) Get(ctx context.Context, id string) (domain.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return domain.Feed{}, fmt.Errorf("static: feed %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

// Upsert replaces the in-memory entry. The change does not survive a restart;
// durable edits belong in the config file or the database-backed store.
func (s *FeedStore) Upsert(ctx context.Context, feed domain.Feed) error {
	if err := feed.Validate(); err != nil {
		return fmt.Errorf("static: upsert feed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[feed.ID] = feed
	return nil
}

// SetEnabled flips a feed in or out of the rotation for this process only.
func (s *FeedStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[id]
	if !ok {
		return fmt.Errorf("static: feed %s: %w", id, domain.ErrNotFound)
	}
	f.Enabled = enabled
	s.feeds[id] = f
	return nil
}
