package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	sub1, err := m.Subscribe(ctx, "updates")
	require.NoError(t, err)
	sub2, err := m.Subscribe(ctx, "updates")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "updates", []byte("hello")))

	for _, sub := range []<-chan []byte{sub1, sub2} {
		select {
		case got := <-sub:
			require.Equal(t, []byte("hello"), got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	updates, err := m.Subscribe(ctx, "updates")
	require.NoError(t, err)
	status, err := m.Subscribe(ctx, "status")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "status", []byte("state change")))

	select {
	case got := <-status:
		require.Equal(t, []byte("state change"), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
	}

	select {
	case got := <-updates:
		t.Fatalf("updates subscriber received %q from status channel", got)
	default:
	}
}

func TestSubscriberClosedOnContextCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Subscribe(ctx, "updates")
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-sub:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed after cancel")
	}

	// Publishing after the subscriber is gone must not panic or block.
	require.NoError(t, m.Publish(context.Background(), "updates", []byte("late")))
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Subscribe(ctx, "updates")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			_ = m.Publish(ctx, "updates", []byte("burst"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber buffer")
	}
}
