package broadcaster

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/registry"
	"go.uber.org/zap"
)

const eventBufferSize = 1024

// MembershipSource supplies the authoritative list of chats a user
// belongs to.
type MembershipSource interface {
	GetUserChats(ctx context.Context, userId chat.UserId) ([]chat.ChatId, error)
}

type lifecycleKind int

const (
	connectionOpened lifecycleKind = iota
	connectionClosed
)

type lifecycleEvent struct {
	kind       lifecycleKind
	userId     chat.UserId
	connection *registry.Connection
}

type bridgeEvent struct {
	subscription *chat.SubscriptionEvent
	message      *chat.Message
}

// Router keeps the process-local view of who listens to which chat and
// fans chat messages out to live connections. Connection lifecycle and
// bridge events arrive on separate ordered channels and are applied by
// the single goroutine running Run.
type Router struct {
	logger *zap.Logger

	connections   *registry.ConnectionRegistry
	subscriptions *registry.SubscriptionTable
	storage       MembershipSource

	lifecycle chan lifecycleEvent
	bridge    chan bridgeEvent
	done      chan struct{}
	backfills sync.WaitGroup
}

func NewRouter(
	logger *zap.Logger,
	connections *registry.ConnectionRegistry,
	subscriptions *registry.SubscriptionTable,
	storage MembershipSource,
) *Router {
	return &Router{
		logger:        logger,
		connections:   connections,
		subscriptions: subscriptions,
		storage:       storage,
		lifecycle:     make(chan lifecycleEvent, eventBufferSize),
		bridge:        make(chan bridgeEvent, eventBufferSize),
		done:          make(chan struct{}),
	}
}

func (r *Router) ConnectionOpened(userId chat.UserId, connection *registry.Connection) {
	r.enqueueLifecycle(lifecycleEvent{connectionOpened, userId, connection})
}

func (r *Router) ConnectionClosed(userId chat.UserId, connection *registry.Connection) {
	r.enqueueLifecycle(lifecycleEvent{connectionClosed, userId, connection})
}

func (r *Router) SubscriptionChanged(event chat.SubscriptionEvent) {
	r.enqueueBridge(bridgeEvent{subscription: &event})
}

func (r *Router) IncomingMessage(message chat.Message) {
	r.enqueueBridge(bridgeEvent{message: &message})
}

func (r *Router) enqueueLifecycle(event lifecycleEvent) {
	select {
	case r.lifecycle <- event:
	case <-r.done:
	}
}

func (r *Router) enqueueBridge(event bridgeEvent) {
	select {
	case r.bridge <- event:
	case <-r.done:
	}
}

// Run applies events until ctx is cancelled, then waits for in-flight
// backfills. Events enqueued after Run returns are discarded.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("router started")

	defer func() {
		close(r.done)
		r.backfills.Wait()

		r.logger.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-r.lifecycle:
			r.handleLifecycle(ctx, event)
		case event := <-r.bridge:
			r.handleBridge(event)
		}
	}
}

func (r *Router) handleLifecycle(ctx context.Context, event lifecycleEvent) {
	switch event.kind {
	case connectionOpened:
		r.connections.Register(event.userId, event.connection)

		r.logger.Debug("connection registered",
			zap.Stringer("userId", event.userId),
			zap.String("connectionId", event.connection.Id))

		r.backfills.Add(1)
		go r.backfill(ctx, event.userId)
	case connectionClosed:
		r.connections.Unregister(event.userId, event.connection)

		r.logger.Debug("connection unregistered",
			zap.Stringer("userId", event.userId),
			zap.String("connectionId", event.connection.Id))
	}
}

// backfill must not hold any table lock while waiting on storage.
func (r *Router) backfill(ctx context.Context, userId chat.UserId) {
	defer r.backfills.Done()

	chatIds, err := r.storage.GetUserChats(ctx, userId)
	if err != nil {
		r.logger.Warn("failed to backfill subscriptions",
			zap.Stringer("userId", userId),
			zap.Error(err))

		return
	}

	r.subscriptions.Backfill(userId, chatIds)

	r.logger.Debug("subscriptions backfilled",
		zap.Stringer("userId", userId),
		zap.Int("chats", len(chatIds)))
}

func (r *Router) handleBridge(event bridgeEvent) {
	switch {
	case event.subscription != nil:
		r.applySubscription(*event.subscription)
	case event.message != nil:
		r.fanOut(*event.message)
	}
}

func (r *Router) applySubscription(event chat.SubscriptionEvent) {
	switch event.Kind {
	case chat.Subscribe:
		r.subscriptions.Subscribe(event.ChatId, event.UserId)
	case chat.Unsubscribe:
		r.subscriptions.Unsubscribe(event.ChatId, event.UserId)
	}
}

// fanOut pushes the message once to every connection of every current
// subscriber. A failed push does not stop delivery to the rest.
func (r *Router) fanOut(message chat.Message) {
	subscribers := r.subscriptions.SubscribersOf(message.ChatId)
	if len(subscribers) == 0 {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		r.logger.Error("failed to encode message",
			zap.Stringer("chatId", message.ChatId),
			zap.Error(err))

		return
	}

	for _, userId := range subscribers {
		for _, connection := range r.connections.ConnectionsOf(userId) {
			if !connection.Push(payload) {
				r.logger.Warn("dropped message for connection",
					zap.Stringer("chatId", message.ChatId),
					zap.Stringer("userId", userId),
					zap.String("connectionId", connection.Id))
			}
		}
	}
}
