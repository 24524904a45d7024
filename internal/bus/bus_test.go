package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishReachesPatternSubscriber(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, b.SubscribePattern(ctx, "room:*", func(channel string, payload []byte) {
		received <- payload
	}))

	// miniredis needs a moment to register the pattern subscription
	// before a published message is guaranteed to be delivered.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, "room:abc", []byte("hello")))

	select {
	case got := <-received:
		require.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed message")
	}
}
