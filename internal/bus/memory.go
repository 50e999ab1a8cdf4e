// Package bus provides an in-process implementation of domain.EventBus for
// single-process deployments that run without Redis. Behavior mirrors the
// Redis-backed bus: best-effort delivery, subscriber channels closed when
// their context ends.
package bus

import (
	"context"
	"sync"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

const subscriberBuffer = 128

// Memory is an in-process fan-out bus keyed by channel name.
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]chan []byte)}
}

// Publish delivers the payload to every subscriber of the channel. Slow
// subscribers whose buffers are full miss the event rather than block the
// publisher; the attempt store is the durable record.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel. The returned channel
// is closed and the subscription removed when the context is cancelled.
// Pattern subscriptions are not supported; callers subscribe to exact
// channel names.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(channel, ch)
		close(ch)
	}()

	return ch, nil
}

func (m *Memory) remove(channel string, ch chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[channel]
	for i, c := range subs {
		if c == ch {
			m.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[channel]) == 0 {
		delete(m.subs, channel)
	}
}

// Compile-time interface check.
var _ domain.EventBus = (*Memory)(nil)
