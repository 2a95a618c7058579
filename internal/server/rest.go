package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/bridge"
	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/handler"
	"github.com/goevery/chat/internal/ierr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type HealthChecker interface {
	State() bridge.State
}

type HealthResponse struct {
	Bridge string `json:"bridge"`
}

type RESTServer struct {
	logger *zap.Logger

	authenticator     *auth.Authenticator
	originChecker     *OriginChecker
	userHandler       *handler.UserHandler
	membershipHandler *handler.MembershipHandler
	health            HealthChecker
}

func NewRESTServer(
	logger *zap.Logger,
	authenticator *auth.Authenticator,
	originChecker *OriginChecker,
	userHandler *handler.UserHandler,
	membershipHandler *handler.MembershipHandler,
	health HealthChecker,
) *RESTServer {
	return &RESTServer{
		logger,
		authenticator,
		originChecker,
		userHandler,
		membershipHandler,
		health,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.cors)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	authenticated := api.NewRoute().Subrouter()
	authenticated.Use(s.authenticate)

	authenticated.HandleFunc("/user/authorize", s.handleAuthorize).Methods("POST", "OPTIONS")
	authenticated.HandleFunc("/user/info", s.handleUserInfo).Methods("GET", "OPTIONS")
	authenticated.HandleFunc("/user/chats", s.handleUserChats).Methods("GET", "OPTIONS")
	authenticated.HandleFunc("/chat/new-private", s.handleNewPrivate).Methods("POST", "OPTIONS")
	authenticated.HandleFunc("/chat/new-group", s.handleNewGroup).Methods("POST", "OPTIONS")
	authenticated.HandleFunc("/chat/new-user", s.handleInvite).Methods("PUT", "OPTIONS")
	authenticated.HandleFunc("/chat/exit", s.handleExit).Methods("PUT", "OPTIONS")
	authenticated.HandleFunc("/chat/info", s.handleChatInfo).Methods("GET", "OPTIONS")
	authenticated.HandleFunc("/chat/history", s.handleHistory).Methods("GET", "OPTIONS")
}

func (s *RESTServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originChecker.Allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *RESTServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.writeError(w, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing bearer token")))
			return
		}

		authentication, err := s.authenticator.AuthenticateJWT(token)
		if err != nil {
			s.writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuthentication(r.Context(), authentication)))
	})
}

func (s *RESTServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.health.State()

	status := http.StatusOK
	if state != bridge.StateSubscribed {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, HealthResponse{Bridge: state.String()})
}

func (s *RESTServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req handler.AuthorizeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	userInfo, err := s.userHandler.Authorize(r.Context(), req)
	s.reply(w, userInfo, err)
}

func (s *RESTServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	userId, err := chat.ParseUserId(r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid user_id")))
		return
	}

	userInfo, err := s.userHandler.UserInfo(r.Context(), userId)
	s.reply(w, userInfo, err)
}

func (s *RESTServer) handleUserChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.userHandler.UserChats(r.Context())
	s.reply(w, chats, err)
}

func (s *RESTServer) handleNewPrivate(w http.ResponseWriter, r *http.Request) {
	var req handler.NewPrivateChatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	chatInfo, err := s.membershipHandler.CreatePrivate(r.Context(), req)
	s.reply(w, chatInfo, err)
}

func (s *RESTServer) handleNewGroup(w http.ResponseWriter, r *http.Request) {
	var req handler.NewGroupChatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	chatInfo, err := s.membershipHandler.CreateGroup(r.Context(), req)
	s.reply(w, chatInfo, err)
}

func (s *RESTServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req handler.InviteRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	response, err := s.membershipHandler.Invite(r.Context(), req)
	s.reply(w, response, err)
}

func (s *RESTServer) handleExit(w http.ResponseWriter, r *http.Request) {
	var req handler.ExitRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	response, err := s.membershipHandler.Exit(r.Context(), req)
	s.reply(w, response, err)
}

func (s *RESTServer) handleChatInfo(w http.ResponseWriter, r *http.Request) {
	chatId, ok := s.chatIdParam(w, r)
	if !ok {
		return
	}

	chatInfo, err := s.userHandler.ChatInfo(r.Context(), chatId)
	s.reply(w, chatInfo, err)
}

func (s *RESTServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatId, ok := s.chatIdParam(w, r)
	if !ok {
		return
	}

	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid limit")))
			return
		}
	}

	messages, err := s.userHandler.History(r.Context(), handler.HistoryRequest{ChatId: chatId, Limit: limit})
	s.reply(w, messages, err)
}

func (s *RESTServer) chatIdParam(w http.ResponseWriter, r *http.Request) (chat.ChatId, bool) {
	chatId, err := uuid.Parse(r.URL.Query().Get("chat_id"))
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid chat_id")))
		return chat.ChatId{}, false
	}

	return chatId, true
}

func (s *RESTServer) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		s.writeError(w, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body")))
		return false
	}

	return true
}

func (s *RESTServer) reply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, v)
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	mapped := mapError(s.logger, err)

	s.writeJSON(w, httpStatus(mapped.Code), mapped)
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Debug("failed to encode response", zap.Error(err))
	}
}

func httpStatus(code ierr.ErrorCode) int {
	switch code {
	case ierr.ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ierr.ErrorCodeNotFound:
		return http.StatusNotFound
	case ierr.ErrorCodeAlreadyExists:
		return http.StatusConflict
	case ierr.ErrorCodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case ierr.ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ierr.ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ierr.ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
