package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/registry"
	"github.com/goevery/chat/internal/rpc"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// ConnectionLifecycle is told when an authenticated connection goes away.
type ConnectionLifecycle interface {
	ConnectionClosed(userId chat.UserId, connection *registry.Connection)
}

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	router         *Router
	lifecycle      ConnectionLifecycle
	sendBufferSize int
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	router *Router,
	lifecycle ConnectionLifecycle,
	sendBufferSize int,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		router,
		lifecycle,
		sendBufferSize,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.serve).Methods("GET")
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	connection := registry.NewConnection(registry.GenerateConnectionId(), s.sendBufferSize)
	logger := s.logger.With(
		zap.String("connectionId", connection.Id),
		zap.String("remoteAddr", r.RemoteAddr))

	logger.Debug("websocket connection established")

	replies := make(chan rpc.Response, 16)
	writerDone := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		defer close(writerDone)
		s.writePump(logger, conn, connection, replies, stop)
	}()

	s.readPump(r.Context(), logger, conn, connection, replies, writerDone)

	if userId, ok := connection.GetUserId(); ok {
		s.lifecycle.ConnectionClosed(userId, connection)
	}
	connection.Close()

	close(stop)
	<-writerDone
	conn.Close()

	logger.Debug("websocket connection closed")
}

func (s *WebSocketServer) readPump(
	ctx context.Context,
	logger *zap.Logger,
	conn *websocket.Conn,
	connection *registry.Connection,
	replies chan<- rpc.Response,
	writerDone <-chan struct{},
) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx = registry.WithConnection(ctx, connection)

	for {
		var request rpc.Request
		err := conn.ReadJSON(&request)
		if err != nil {
			logReadError(logger, err)
			return
		}

		response := s.router.RouteRequest(ctx, request)
		if response == nil {
			continue
		}

		select {
		case replies <- *response:
		case <-writerDone:
			return
		}
	}
}

// writePump is the only writer on conn. Fan-out payloads are already
// encoded chat messages and are wrapped in a notification here.
func (s *WebSocketServer) writePump(
	logger *zap.Logger,
	conn *websocket.Conn,
	connection *registry.Connection,
	replies <-chan rpc.Response,
	stop <-chan struct{},
) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// Unblocks the reader when writing fails.
	defer conn.Close()

	send := connection.Send

	for {
		var err error

		select {
		case <-stop:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload, ok := <-send:
			if !ok {
				send = nil
				continue
			}

			params := json.RawMessage(payload)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteJSON(rpc.NewNotification(rpc.MethodMessage, &params))
		case response := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteJSON(response)
		case <-ticker.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}

		if err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func logReadError(logger *zap.Logger, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.Debug("websocket closed by peer")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		logger.Debug("websocket connection dropped", zap.Error(err))
	default:
		logger.Info("websocket read failed", zap.Error(err))
	}
}
