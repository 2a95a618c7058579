package persistence

import (
	"context"

	"github.com/goevery/chat/internal/chat"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Engine is the authoritative store for users, chat membership and
// message history. Connectivity and query failures are reported with
// ierr.ErrorCodeUnavailable.
type Engine interface {
	Setup(ctx context.Context) error

	GetUserChats(ctx context.Context, userId chat.UserId) ([]chat.ChatId, error)
	SaveMessage(ctx context.Context, message chat.Message) error
	ListMessages(ctx context.Context, userId chat.UserId, chatId chat.ChatId, limit int) ([]chat.Message, error)

	CreateUser(ctx context.Context, userId chat.UserId, name string) (chat.UserInfo, error)
	GetUserInfo(ctx context.Context, userId chat.UserId) (chat.UserInfo, error)

	CreateChat(ctx context.Context, request CreateChatRequest) (chat.ChatInfo, error)
	GetChatInfo(ctx context.Context, userId chat.UserId, chatId chat.ChatId) (chat.ChatInfo, error)
	AddUserToChat(ctx context.Context, userId chat.UserId, guestId chat.UserId, chatId chat.ChatId) error
	ExitChat(ctx context.Context, userId chat.UserId, chatId chat.ChatId) error
}

type CreateChatRequest struct {
	Creator  chat.UserId
	Invited  []chat.UserId
	ChatType chat.ChatType
	Name     string
}
