package handler

import (
	"context"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/persistence"
)

type AuthorizeRequest struct {
	UserName string `json:"user_name"`
}

type UserChatsResponse struct {
	Chats []chat.ChatId `json:"chats"`
}

type HistoryRequest struct {
	ChatId chat.ChatId
	Limit  int
}

// UserHandler serves the account and read only endpoints.
type UserHandler struct {
	validator *Validator
	storage   persistence.Engine
}

func NewUserHandler(validator *Validator, storage persistence.Engine) *UserHandler {
	return &UserHandler{
		validator,
		storage,
	}
}

// Authorize registers the authenticated user under the given name.
func (h *UserHandler) Authorize(ctx context.Context, req AuthorizeRequest) (chat.UserInfo, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return chat.UserInfo{}, err
	}

	err = h.validator.ValidateName(req.UserName)
	if err != nil {
		return chat.UserInfo{}, err
	}

	return h.storage.CreateUser(ctx, authentication.UserId, req.UserName)
}

func (h *UserHandler) UserInfo(ctx context.Context, userId chat.UserId) (chat.UserInfo, error) {
	if _, err := authenticationFrom(ctx); err != nil {
		return chat.UserInfo{}, err
	}

	return h.storage.GetUserInfo(ctx, userId)
}

func (h *UserHandler) UserChats(ctx context.Context) (UserChatsResponse, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return UserChatsResponse{}, err
	}

	chatIds, err := h.storage.GetUserChats(ctx, authentication.UserId)
	if err != nil {
		return UserChatsResponse{}, err
	}

	if chatIds == nil {
		chatIds = []chat.ChatId{}
	}

	return UserChatsResponse{
		Chats: chatIds,
	}, nil
}

func (h *UserHandler) ChatInfo(ctx context.Context, chatId chat.ChatId) (chat.ChatInfo, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return chat.ChatInfo{}, err
	}

	return h.storage.GetChatInfo(ctx, authentication.UserId, chatId)
}

func (h *UserHandler) History(ctx context.Context, req HistoryRequest) ([]chat.Message, error) {
	authentication, err := authenticationFrom(ctx)
	if err != nil {
		return nil, err
	}

	messages, err := h.storage.ListMessages(ctx, authentication.UserId, req.ChatId, persistence.HistoryLimit(req.Limit))
	if err != nil {
		return nil, err
	}

	if messages == nil {
		messages = []chat.Message{}
	}

	return messages, nil
}
