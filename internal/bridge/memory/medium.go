// Package memory provides a process-local broadcast medium for single
// instance deployments and tests.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/goevery/chat/internal/bridge"
)

const subscriptionBufferSize = 1024

var ErrClosed = errors.New("medium is closed")

type Medium struct {
	mu            sync.RWMutex
	subscriptions map[*subscription]struct{}
	closed        bool
}

func NewMedium() *Medium {
	return &Medium{
		subscriptions: make(map[*subscription]struct{}),
	}
}

func (m *Medium) Subscribe(ctx context.Context, channels ...string) (bridge.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	s := &subscription{
		medium:    m,
		channels:  slices.Clone(channels),
		envelopes: make(chan bridge.Envelope, subscriptionBufferSize),
	}
	m.subscriptions[s] = struct{}{}

	return s, nil
}

func (m *Medium) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for s := range m.subscriptions {
		if !slices.Contains(s.channels, channel) {
			continue
		}

		envelope := bridge.Envelope{Channel: channel, Payload: append([]byte(nil), payload...)}
		select {
		case s.envelopes <- envelope:
		default:
			// Non-blocking send to avoid one slow subscriber stalling all publishers.
		}
	}

	return nil
}

// Terminate ends every open subscription stream as if the medium had
// dropped its subscribers.
func (m *Medium) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := range m.subscriptions {
		m.removeLocked(s)
	}
}

func (m *Medium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := range m.subscriptions {
		m.removeLocked(s)
	}
	m.closed = true

	return nil
}

// IMPORTANT: It must be called only when a write lock is already held.
func (m *Medium) removeLocked(s *subscription) {
	if _, ok := m.subscriptions[s]; !ok {
		return
	}

	delete(m.subscriptions, s)
	close(s.envelopes)
}

type subscription struct {
	medium    *Medium
	channels  []string
	envelopes chan bridge.Envelope
}

func (s *subscription) Envelopes() <-chan bridge.Envelope {
	return s.envelopes
}

func (s *subscription) Close() error {
	s.medium.mu.Lock()
	defer s.medium.mu.Unlock()

	s.medium.removeLocked(s)

	return nil
}
