package handler

import (
	"context"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/persistence"
	"go.uber.org/zap"
)

type SubscriptionPublisher interface {
	PublishSubscription(ctx context.Context, event chat.SubscriptionEvent) error
}

type NewPrivateChatRequest struct {
	GuestUser   chat.UserId `json:"guest_user"`
	NewChatName string      `json:"new_chat_name"`
}

type NewGroupChatRequest struct {
	GuestUsers  []chat.UserId `json:"guest_users"`
	NewChatName string        `json:"new_chat_name"`
}

type InviteRequest struct {
	GuestId chat.UserId `json:"guest_id"`
	ChatId  chat.ChatId `json:"chat_id"`
}

type ExitRequest struct {
	ChatId chat.ChatId `json:"chat_id"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// MembershipHandler changes chat membership in storage and then announces
// the change on the broadcast medium so every instance updates its
// subscription table. Membership is durable once storage accepts it, so
// announcement failures are logged and not returned.
type MembershipHandler struct {
	logger    *zap.Logger
	validator *Validator
	storage   persistence.Engine
	publisher SubscriptionPublisher
}

func NewMembershipHandler(
	logger *zap.Logger,
	validator *Validator,
	storage persistence.Engine,
	publisher SubscriptionPublisher,
) *MembershipHandler {
	return &MembershipHandler{
		logger,
		validator,
		storage,
		publisher,
	}
}

func (h *MembershipHandler) CreatePrivate(ctx context.Context, req NewPrivateChatRequest) (chat.ChatInfo, error) {
	return h.create(ctx, chat.ChatTypePrivate, []chat.UserId{req.GuestUser}, req.NewChatName)
}

func (h *MembershipHandler) CreateGroup(ctx context.Context, req NewGroupChatRequest) (chat.ChatInfo, error) {
	return h.create(ctx, chat.ChatTypeGroup, req.GuestUsers, req.NewChatName)
}

func (h *MembershipHandler) create(ctx context.Context, chatType chat.ChatType, invited []chat.UserId, name string) (chat.ChatInfo, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return chat.ChatInfo{}, err
	}

	err = h.validator.ValidateName(name)
	if err != nil {
		return chat.ChatInfo{}, err
	}

	chatInfo, err := h.storage.CreateChat(ctx, persistence.CreateChatRequest{
		Creator:  authentication.UserId,
		Invited:  invited,
		ChatType: chatType,
		Name:     name,
	})
	if err != nil {
		return chat.ChatInfo{}, err
	}

	for _, userId := range chatInfo.Users {
		h.announce(ctx, chat.SubscriptionEvent{ChatId: chatInfo.Id, UserId: userId, Kind: chat.Subscribe})
	}

	return chatInfo, nil
}

func (h *MembershipHandler) Invite(ctx context.Context, req InviteRequest) (SuccessResponse, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return SuccessResponse{}, err
	}

	err = h.storage.AddUserToChat(ctx, authentication.UserId, req.GuestId, req.ChatId)
	if err != nil {
		return SuccessResponse{}, err
	}

	h.announce(ctx, chat.SubscriptionEvent{ChatId: req.ChatId, UserId: req.GuestId, Kind: chat.Subscribe})

	return SuccessResponse{
		Success: true,
	}, nil
}

func (h *MembershipHandler) Exit(ctx context.Context, req ExitRequest) (SuccessResponse, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return SuccessResponse{}, err
	}

	err = h.storage.ExitChat(ctx, authentication.UserId, req.ChatId)
	if err != nil {
		return SuccessResponse{}, err
	}

	h.announce(ctx, chat.SubscriptionEvent{ChatId: req.ChatId, UserId: authentication.UserId, Kind: chat.Unsubscribe})

	return SuccessResponse{
		Success: true,
	}, nil
}

func (h *MembershipHandler) announce(ctx context.Context, event chat.SubscriptionEvent) {
	err := h.publisher.PublishSubscription(ctx, event)
	if err != nil {
		h.logger.Warn("failed to announce membership change",
			zap.Stringer("chatId", event.ChatId),
			zap.Stringer("userId", event.UserId),
			zap.Stringer("kind", event.Kind),
			zap.Error(err))
	}
}
