package redis

import (
	"context"
	"testing"
	"time"

	"github.com/goevery/chat/internal/bridge"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCloser struct {
	calls int
}

func (c *countingCloser) Close() error {
	c.calls++
	return nil
}

func receive(t *testing.T, envelopes <-chan bridge.Envelope) (bridge.Envelope, bool) {
	t.Helper()

	select {
	case envelope, ok := <-envelopes:
		return envelope, ok
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
		return bridge.Envelope{}, false
	}
}

func TestSubscription(t *testing.T) {
	t.Run("forwards messages as envelopes", func(t *testing.T) {
		messages := make(chan *redis.Message, 2)
		s := newSubscription(messages, &countingCloser{})
		go s.forward()
		t.Cleanup(func() { s.Close() })

		messages <- &redis.Message{Channel: bridge.ChannelSubscribe, Payload: `{"a":1}`}
		messages <- &redis.Message{Channel: bridge.ChannelChatMessage, Payload: `{"b":2}`}

		envelope, ok := receive(t, s.Envelopes())
		require.True(t, ok)
		assert.Equal(t, bridge.Envelope{Channel: bridge.ChannelSubscribe, Payload: []byte(`{"a":1}`)}, envelope)

		envelope, ok = receive(t, s.Envelopes())
		require.True(t, ok)
		assert.Equal(t, bridge.Envelope{Channel: bridge.ChannelChatMessage, Payload: []byte(`{"b":2}`)}, envelope)
	})

	t.Run("ends when the pubsub channel closes", func(t *testing.T) {
		messages := make(chan *redis.Message)
		s := newSubscription(messages, &countingCloser{})
		go s.forward()

		close(messages)

		_, ok := receive(t, s.Envelopes())
		assert.False(t, ok)
	})

	t.Run("close stops a blocked forward", func(t *testing.T) {
		messages := make(chan *redis.Message, 1)
		s := newSubscription(messages, &countingCloser{})
		go s.forward()

		messages <- &redis.Message{Channel: bridge.ChannelChatMessage, Payload: "{}"}
		assert.Eventually(t, func() bool { return len(messages) == 0 }, time.Second, time.Millisecond)

		require.NoError(t, s.Close())

		for range s.Envelopes() {
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		closer := &countingCloser{}
		s := newSubscription(make(chan *redis.Message), closer)
		go s.forward()

		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
		assert.Equal(t, 1, closer.calls)

		_, ok := receive(t, s.Envelopes())
		assert.False(t, ok)
	})
}

func TestConnect(t *testing.T) {
	t.Run("unreachable server", func(t *testing.T) {
		_, err := Connect(context.Background(), Config{Addr: "127.0.0.1:1"})

		assert.Error(t, err)
	})
}
