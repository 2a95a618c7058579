package bridge

import "context"

const (
	ChannelSubscribe   = "subscribe"
	ChannelUnsubscribe = "unsubscribe"
	ChannelChatMessage = "chat_message"
)

var channels = []string{ChannelSubscribe, ChannelUnsubscribe, ChannelChatMessage}

// Envelope is one payload received on a broadcast medium channel.
type Envelope struct {
	Channel string
	Payload []byte
}

// Subscription is a single ordered stream of envelopes from one or more
// channels. Envelopes is closed when the stream terminates.
type Subscription interface {
	Envelopes() <-chan Envelope
	Close() error
}

// Medium is a cross-process publish/subscribe transport.
type Medium interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}
