package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	topic   string
	origin  string
	kind    string
	payload []byte
}

func newLocalPair(t *testing.T) (*Bus, *Bus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// One in-process gochannel transport shared by two bus fronts
	// simulates two fleet instances on one broker.
	pub, sub, err := NewLocalTransport(logger)
	require.NoError(t, err)

	busA := NewBus(pub, sub, "instance-a", logger)
	busB := NewBus(pub, sub, "instance-b", logger)
	return busA, busB
}

func TestPublishReachesOtherInstance(t *testing.T) {
	busA, busB := newLocalPair(t)
	ctx := context.Background()

	got := make(chan received, 1)
	require.NoError(t, busB.Subscribe(ctx, "room:r1", func(_ context.Context, topic, origin, kind string, payload []byte) {
		got <- received{topic: topic, origin: origin, kind: kind, payload: payload}
	}))

	require.NoError(t, busA.Publish(ctx, "room:r1", "message", map[string]any{"content": "hi"}))

	select {
	case r := <-got:
		assert.Equal(t, "room:r1", r.topic)
		assert.Equal(t, "instance-a", r.origin)
		assert.Equal(t, "message", r.kind)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(r.payload, &payload))
		assert.Equal(t, "hi", payload["content"])
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the envelope")
	}
}

func TestSubscriberDropsOwnOriginEvents(t *testing.T) {
	busA, busB := newLocalPair(t)
	ctx := context.Background()

	fromA := make(chan received, 4)
	require.NoError(t, busA.Subscribe(ctx, "room:r2", func(_ context.Context, topic, origin, kind string, payload []byte) {
		fromA <- received{topic: topic, origin: origin, kind: kind, payload: payload}
	}))

	// A's own publish must not come back to A (amplification guard),
	// but B's publish must.
	require.NoError(t, busA.Publish(ctx, "room:r2", "message", map[string]any{"n": 1}))
	require.NoError(t, busB.Publish(ctx, "room:r2", "message", map[string]any{"n": 2}))

	select {
	case r := <-fromA:
		assert.Equal(t, "instance-b", r.origin, "own-origin event leaked through the guard")
	case <-time.After(2 * time.Second):
		t.Fatal("remote-origin event never arrived")
	}

	select {
	case r := <-fromA:
		t.Fatalf("unexpected second delivery from origin %s", r.origin)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	busA, _ := newLocalPair(t)
	err := busA.Publish(context.Background(), "room:r3", "message", make(chan int))
	assert.Error(t, err)
}
