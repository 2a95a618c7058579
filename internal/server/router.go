package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/goevery/chat/internal/handler"
	"github.com/goevery/chat/internal/ierr"
	"github.com/goevery/chat/internal/rpc"
	"go.uber.org/zap"
)

type Router struct {
	logger *zap.Logger

	heartbeatHandler handler.HeartbeatHandlerInterface
	authHandler      handler.AuthHandlerInterface
	sendHandler      handler.SendHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	authHandler handler.AuthHandlerInterface,
	sendHandler handler.SendHandlerInterface,
) *Router {
	return &Router{
		logger,
		heartbeatHandler,
		authHandler,
		sendHandler,
	}
}

func (r *Router) RouteRequest(ctx context.Context, request rpc.Request) *rpc.Response {
	response, err := r.Handle(ctx, request)
	if err != nil {
		if !request.ReplyExpected() {
			r.logger.Debug("notification failed",
				zap.String("method", request.Method),
				zap.Error(err))

			return nil
		}

		response := request.ReplyWithError(mapError(r.logger, err))

		return &response
	}

	if !request.ReplyExpected() {
		return nil
	}

	rawJson, err := json.Marshal(response)
	if err != nil {
		response := request.ReplyWithError(mapError(r.logger, err))

		return &response
	}

	payload := json.RawMessage(rawJson)
	reply := request.Reply(&payload)

	return &reply
}

func (r *Router) Handle(ctx context.Context, request rpc.Request) (any, error) {
	switch request.Method {
	case "heartbeat":
		return r.heartbeatHandler.Handle(), nil
	case "auth":
		var authReq handler.AuthRequest
		if err := decodeParams(request.Params, &authReq); err != nil {
			return nil, err
		}

		return r.authHandler.Handle(ctx, authReq)
	case "send":
		var sendReq handler.SendRequest
		if err := decodeParams(request.Params, &sendReq); err != nil {
			return nil, err
		}

		return r.sendHandler.Handle(ctx, sendReq)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

// mapError keeps coded errors and hides everything else behind Internal.
func mapError(logger *zap.Logger, err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	logger.Error("unexpected handler error", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}
