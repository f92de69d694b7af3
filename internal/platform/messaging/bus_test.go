package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/contexts/team-collaboration/consensus-engine/ports"
)

func quietBus(size int) *Bus {
	return NewBus(size, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBusDeliversToEverySubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := quietBus(4)

	first := make(chan string, 1)
	second := make(chan string, 1)
	require.NoError(t, bus.Subscribe(ctx, "status", "a", func(_ context.Context, event ports.EventEnvelope) error {
		first <- event.EventID
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "status", "b", func(_ context.Context, event ports.EventEnvelope) error {
		second <- event.EventID
		return errors.New("handler failures are logged")
	}))
	require.NoError(t, bus.Publish(ctx, "other", ports.EventEnvelope{EventID: "ignored"}))
	require.NoError(t, bus.Publish(ctx, "status", ports.EventEnvelope{EventID: "evt-1"}))

	for _, ch := range []chan string{first, second} {
		select {
		case id := <-ch:
			assert.Equal(t, "evt-1", id)
		case <-time.After(2 * time.Second):
			t.Fatal("event was not delivered")
		}
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := quietBus(1)

	release := make(chan struct{})
	received := make(chan string, 8)
	require.NoError(t, bus.Subscribe(ctx, "status", "slow", func(_ context.Context, event ports.EventEnvelope) error {
		<-release
		received <- event.EventID
		return nil
	}))

	publishDone := make(chan struct{})
	go func() {
		defer close(publishDone)
		for _, id := range []string{"a", "b", "c", "d"} {
			assert.NoError(t, bus.Publish(ctx, "status", ports.EventEnvelope{EventID: id}))
		}
	}()
	select {
	case <-publishDone:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)

	select {
	case id := <-received:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatal("first event was not delivered")
	}
}

func TestBusUnsubscribesWhenContextEnds(t *testing.T) {
	bus := quietBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, "status", "a", func(context.Context, ports.EventEnvelope) error { return nil }))
	cancel()

	assert.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["status"]) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
