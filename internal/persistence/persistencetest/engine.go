// Package persistencetest provides a testify mock of persistence.Engine.
package persistencetest

import (
	"context"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/persistence"
	"github.com/stretchr/testify/mock"
)

type MockEngine struct {
	mock.Mock
}

var _ persistence.Engine = (*MockEngine)(nil)

func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockEngine) Setup(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) GetUserChats(ctx context.Context, userId chat.UserId) ([]chat.ChatId, error) {
	args := m.Called(ctx, userId)

	chatIds, _ := args.Get(0).([]chat.ChatId)

	return chatIds, args.Error(1)
}

func (m *MockEngine) SaveMessage(ctx context.Context, message chat.Message) error {
	return m.Called(ctx, message).Error(0)
}

func (m *MockEngine) ListMessages(ctx context.Context, userId chat.UserId, chatId chat.ChatId, limit int) ([]chat.Message, error) {
	args := m.Called(ctx, userId, chatId, limit)

	messages, _ := args.Get(0).([]chat.Message)

	return messages, args.Error(1)
}

func (m *MockEngine) CreateUser(ctx context.Context, userId chat.UserId, name string) (chat.UserInfo, error) {
	args := m.Called(ctx, userId, name)

	return args.Get(0).(chat.UserInfo), args.Error(1)
}

func (m *MockEngine) GetUserInfo(ctx context.Context, userId chat.UserId) (chat.UserInfo, error) {
	args := m.Called(ctx, userId)

	return args.Get(0).(chat.UserInfo), args.Error(1)
}

func (m *MockEngine) CreateChat(ctx context.Context, request persistence.CreateChatRequest) (chat.ChatInfo, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(chat.ChatInfo), args.Error(1)
}

func (m *MockEngine) GetChatInfo(ctx context.Context, userId chat.UserId, chatId chat.ChatId) (chat.ChatInfo, error) {
	args := m.Called(ctx, userId, chatId)

	return args.Get(0).(chat.ChatInfo), args.Error(1)
}

func (m *MockEngine) AddUserToChat(ctx context.Context, userId chat.UserId, guestId chat.UserId, chatId chat.ChatId) error {
	return m.Called(ctx, userId, guestId, chatId).Error(0)
}

func (m *MockEngine) ExitChat(ctx context.Context, userId chat.UserId, chatId chat.ChatId) error {
	return m.Called(ctx, userId, chatId).Error(0)
}
