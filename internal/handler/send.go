package handler

import (
	"context"
	"sync"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"go.uber.org/zap"
)

type SendRequest struct {
	ChatId chat.ChatId `json:"chat_id"`
	Text   string      `json:"msg_text"`
}

type SendHandlerInterface interface {
	Handle(ctx context.Context, req SendRequest) (chat.Message, error)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, message chat.Message) error
}

type MessagePublisher interface {
	Publish(ctx context.Context, message chat.Message) error
}

type SendHandler struct {
	logger    *zap.Logger
	validator *Validator
	store     MessageStore
	publisher MessagePublisher

	saves sync.WaitGroup
}

func NewSendHandler(
	logger *zap.Logger,
	validator *Validator,
	store MessageStore,
	publisher MessagePublisher,
) *SendHandler {
	return &SendHandler{
		logger:    logger,
		validator: validator,
		store:     store,
		publisher: publisher,
	}
}

// Handle hands the message to storage and to the broadcast medium
// independently. Delivery to the sender's own connections happens only
// through the medium's echo. Save failures are logged, never returned.
func (h *SendHandler) Handle(ctx context.Context, req SendRequest) (chat.Message, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return chat.Message{}, err
	}

	err = h.validator.ValidateText(req.Text)
	if err != nil {
		return chat.Message{}, err
	}

	message := chat.NewMessage(req.ChatId, authentication.UserId, req.Text, time.Now())

	h.saves.Add(1)
	go h.save(context.WithoutCancel(ctx), message)

	err = h.publisher.Publish(ctx, message)
	if err != nil {
		return chat.Message{}, err
	}

	return message, nil
}

func (h *SendHandler) save(ctx context.Context, message chat.Message) {
	defer h.saves.Done()

	err := h.store.SaveMessage(ctx, message)
	if err != nil {
		h.logger.Error("failed to save message",
			zap.Stringer("chatId", message.ChatId),
			zap.Stringer("userId", message.SenderId),
			zap.String("code", string(ierr.CodeOf(err))),
			zap.Error(err))
	}
}

// Wait blocks until in-flight saves finish or ctx is done.
func (h *SendHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.saves.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
