package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"go.uber.org/zap"
)

// EventSink receives the events decoded from the broadcast medium, in the
// order the medium delivered them.
type EventSink interface {
	SubscriptionChanged(event chat.SubscriptionEvent)
	IncomingMessage(message chat.Message)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

type Settings struct {
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
}

// Bridge holds the single subscription of this process to the broadcast
// medium and republishes locally originated events onto it.
type Bridge struct {
	logger   *zap.Logger
	medium   Medium
	sink     EventSink
	settings Settings

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once
}

func NewBridge(logger *zap.Logger, medium Medium, sink EventSink, settings Settings) *Bridge {
	if settings.ReconnectBaseWait <= 0 {
		settings.ReconnectBaseWait = 500 * time.Millisecond
	}
	if settings.ReconnectMaxWait < settings.ReconnectBaseWait {
		settings.ReconnectMaxWait = settings.ReconnectBaseWait
	}

	return &Bridge{
		logger:   logger,
		medium:   medium,
		sink:     sink,
		settings: settings,
		ready:    make(chan struct{}),
	}
}

func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(state State) {
	b.state.Store(int32(state))
}

// Ready is closed once the bridge has subscribed to every channel for the
// first time.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Run subscribes to the medium and forwards envelopes to the sink until
// ctx is cancelled. A terminated stream is resubscribed with exponential
// backoff.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.setState(StateDisconnected)

	wait := b.settings.ReconnectBaseWait

	for {
		b.setState(StateConnecting)

		subscription, err := b.medium.Subscribe(ctx, channels...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			b.logger.Warn("failed to subscribe to broadcast medium",
				zap.Duration("retryIn", wait),
				zap.Error(err))
		} else {
			b.setState(StateSubscribed)
			b.readyOnce.Do(func() { close(b.ready) })

			b.logger.Info("subscribed to broadcast medium",
				zap.Strings("channels", channels))

			wait = b.settings.ReconnectBaseWait

			b.consume(ctx, subscription)

			if err := subscription.Close(); err != nil {
				b.logger.Debug("failed to close broadcast subscription", zap.Error(err))
			}

			if ctx.Err() != nil {
				return nil
			}

			b.setState(StateConnecting)
			b.logger.Warn("broadcast stream terminated, resubscribing",
				zap.Duration("retryIn", wait))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait = min(wait*2, b.settings.ReconnectMaxWait)
	}
}

func (b *Bridge) consume(ctx context.Context, subscription Subscription) {
	envelopes := subscription.Envelopes()

	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-envelopes:
			if !ok {
				return
			}

			b.dispatch(envelope)
		}
	}
}

// dispatch drops malformed envelopes without notifying the sink.
func (b *Bridge) dispatch(envelope Envelope) {
	var err error

	switch envelope.Channel {
	case ChannelSubscribe, ChannelUnsubscribe:
		kind := chat.Subscribe
		if envelope.Channel == ChannelUnsubscribe {
			kind = chat.Unsubscribe
		}

		var event chat.SubscriptionEvent
		event, err = decodeSubscription(envelope.Payload, kind)
		if err == nil {
			b.sink.SubscriptionChanged(event)
		}
	case ChannelChatMessage:
		var message chat.Message
		message, err = decodeMessage(envelope.Payload)
		if err == nil {
			b.sink.IncomingMessage(message)
		}
	default:
		err = fmt.Errorf("unexpected channel %q", envelope.Channel)
	}

	if err != nil {
		b.logger.Debug("dropped malformed envelope",
			zap.String("channel", envelope.Channel),
			zap.Error(err))
	}
}

// Publish pushes a locally originated message onto the medium. Local
// connections only see it once the medium echoes it back.
func (b *Bridge) Publish(ctx context.Context, message chat.Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return b.publish(ctx, ChannelChatMessage, payload)
}

func (b *Bridge) PublishSubscription(ctx context.Context, event chat.SubscriptionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.publish(ctx, subscriptionChannel(event.Kind), payload)
}

func (b *Bridge) publish(ctx context.Context, channel string, payload []byte) error {
	err := b.medium.Publish(ctx, channel, payload)
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("publish to %s: %w", channel, err))
	}

	return nil
}
