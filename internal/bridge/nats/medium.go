// Package nats implements the broadcast medium on NATS core subjects.
package nats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goevery/chat/internal/bridge"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	pendingBufferSize = 1024
	flushTimeout      = 5 * time.Second
)

var ErrConnectionClosed = errors.New("nats connection closed")

type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
}

type Medium struct {
	conn   *nats.Conn
	closed chan struct{}
}

func Connect(logger *zap.Logger, cfg Config) (*Medium, error) {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	closed := make(chan struct{})
	var closedOnce sync.Once

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			closedOnce.Do(func() { close(closed) })
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Medium{
		conn:   conn,
		closed: closed,
	}, nil
}

// Subscribe shares one pending channel between all subjects so envelopes
// keep the order in which this connection received them.
func (m *Medium) Subscribe(ctx context.Context, channels ...string) (bridge.Subscription, error) {
	if m.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	s := newSubscription(make(chan *nats.Msg, pendingBufferSize), m.closed)

	for _, channel := range channels {
		sub, err := m.conn.ChanSubscribe(channel, s.pending)
		if err != nil {
			s.unsubscribe()
			return nil, err
		}

		s.subs = append(s.subs, sub)
	}

	if err := m.conn.FlushTimeout(flushTimeout); err != nil {
		s.unsubscribe()
		return nil, err
	}

	go s.forward()

	return s, nil
}

func (m *Medium) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.conn.IsClosed() {
		return ErrConnectionClosed
	}

	return m.conn.Publish(channel, payload)
}

func (m *Medium) Close() error {
	return m.conn.Drain()
}

type subscription struct {
	subs      []*nats.Subscription
	pending   chan *nats.Msg
	closed    <-chan struct{}
	envelopes chan bridge.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// newSubscription forwards pending messages until Close is called or
// closed is closed by the connection's ClosedHandler.
func newSubscription(pending chan *nats.Msg, closed <-chan struct{}) *subscription {
	return &subscription{
		pending:   pending,
		closed:    closed,
		envelopes: make(chan bridge.Envelope),
		done:      make(chan struct{}),
	}
}

func (s *subscription) forward() {
	defer close(s.envelopes)

	for {
		select {
		case <-s.done:
			return
		case <-s.closed:
			return
		case message := <-s.pending:
			envelope := bridge.Envelope{
				Channel: message.Subject,
				Payload: message.Data,
			}

			select {
			case s.envelopes <- envelope:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
}

func (s *subscription) Envelopes() <-chan bridge.Envelope {
	return s.envelopes
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.unsubscribe()
	})

	return nil
}
