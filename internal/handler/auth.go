package handler

import (
	"context"
	"errors"

	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/registry"
)

type AuthRequest struct {
	Token string `json:"token"`
}

type AuthResponse struct {
	Success bool        `json:"success"`
	UserId  chat.UserId `json:"user_id"`
}

type AuthHandlerInterface interface {
	Handle(ctx context.Context, req AuthRequest) (AuthResponse, error)
}

// ConnectionListener is told about every connection that becomes bound
// to a user.
type ConnectionListener interface {
	ConnectionOpened(userId chat.UserId, connection *registry.Connection)
}

type AuthHandler struct {
	authenticator *auth.Authenticator
	listener      ConnectionListener
}

func NewAuthHandler(authenticator *auth.Authenticator, listener ConnectionListener) *AuthHandler {
	return &AuthHandler{
		authenticator,
		listener,
	}
}

func (h *AuthHandler) Handle(ctx context.Context, req AuthRequest) (AuthResponse, error) {
	authentication, err := h.authenticator.AuthenticateJWT(req.Token)
	if err != nil {
		return AuthResponse{}, err
	}

	connection, ok := registry.ConnectionFromContext(ctx)
	if !ok {
		return AuthResponse{}, errors.New("connection not found in context")
	}

	err = connection.Authenticate(*authentication)
	if err != nil {
		return AuthResponse{}, err
	}

	h.listener.ConnectionOpened(authentication.UserId, connection)

	return AuthResponse{
		Success: true,
		UserId:  authentication.UserId,
	}, nil
}
