// Package redis implements the broadcast medium on Redis pub/sub.
package redis

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/goevery/chat/internal/bridge"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Medium struct {
	client *redis.Client
}

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, cfg Config) (*Medium, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewMedium(client), nil
}

func NewMedium(client *redis.Client) *Medium {
	return &Medium{
		client,
	}
}

// Subscribe returns once the server has confirmed the subscription.
func (m *Medium) Subscribe(ctx context.Context, channels ...string) (bridge.Subscription, error) {
	pubsub := m.client.Subscribe(ctx, channels...)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	s := newSubscription(pubsub.Channel(), pubsub)

	go s.forward()

	return s, nil
}

func (m *Medium) Publish(ctx context.Context, channel string, payload []byte) error {
	return m.client.Publish(ctx, channel, payload).Err()
}

func (m *Medium) Close() error {
	return m.client.Close()
}

type subscription struct {
	messages  <-chan *redis.Message
	closer    io.Closer
	envelopes chan bridge.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// newSubscription reads messages until they are closed or Close is called.
// closer is the *redis.PubSub that owns messages.
func newSubscription(messages <-chan *redis.Message, closer io.Closer) *subscription {
	return &subscription{
		messages:  messages,
		closer:    closer,
		envelopes: make(chan bridge.Envelope),
		done:      make(chan struct{}),
	}
}

func (s *subscription) forward() {
	defer close(s.envelopes)

	for {
		var message *redis.Message
		var ok bool

		select {
		case <-s.done:
			return
		case message, ok = <-s.messages:
			if !ok {
				return
			}
		}

		envelope := bridge.Envelope{
			Channel: message.Channel,
			Payload: []byte(message.Payload),
		}

		select {
		case s.envelopes <- envelope:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Envelopes() <-chan bridge.Envelope {
	return s.envelopes
}

func (s *subscription) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.done)
		err = s.closer.Close()
	})

	return err
}
