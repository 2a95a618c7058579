package auth

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

type Authentication struct {
	UserId chat.UserId
}

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, auth)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	auth, ok := ctx.Value(authenticationKey).(*Authentication)
	return auth, ok
}

type Authenticator struct {
	secret    []byte
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience("chat"),
	)

	return &Authenticator{
		secret:    []byte(secret),
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

// AuthenticateJWT validates the token and reads the user id from its
// numeric subject claim.
func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	claims := jwt.RegisteredClaims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	userId, err := chat.ParseUserId(subject)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("subject claim is not a user id"))
	}

	return &Authentication{
		UserId: userId,
	}, nil
}
