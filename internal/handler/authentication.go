package handler

import (
	"context"
	"errors"

	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/ierr"
	"github.com/goevery/chat/internal/registry"
)

// authenticationFrom prefers the identity bound to the websocket
// connection and falls back to the one set by the REST middleware.
func authenticationFrom(ctx context.Context) (*auth.Authentication, error) {
	var authentication *auth.Authentication

	connection, ok := registry.ConnectionFromContext(ctx)
	if ok {
		authentication = connection.GetAuthentication()
	}

	if authentication == nil {
		authentication, ok = auth.AuthenticationFromContext(ctx)
		if !ok || authentication == nil {
			return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("user not authenticated"))
		}
	}

	return authentication, nil
}
