package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/bridge"
	"github.com/goevery/chat/internal/bridge/memory"
	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/handler"
	"github.com/goevery/chat/internal/ierr"
	"github.com/goevery/chat/internal/persistence"
	"github.com/goevery/chat/internal/persistence/persistencetest"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRESTTestServer(t *testing.T) (*httptest.Server, *persistencetest.MockEngine) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	storage := persistencetest.NewMockEngine(t)
	authenticator := auth.NewAuthenticator(testSecret)
	validator := handler.NewValidator()

	// Not running: publishes still reach the medium and health reports
	// the bridge as disconnected.
	b := bridge.NewBridge(logger, memory.NewMedium(), nil, bridge.Settings{})

	restServer := NewRESTServer(
		logger,
		authenticator,
		NewOriginChecker(logger, []string{"https://chat.example.com"}),
		handler.NewUserHandler(validator, storage),
		handler.NewMembershipHandler(logger, validator, storage, b),
		b,
	)

	router := mux.NewRouter()
	restServer.Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, storage
}

func doRequest(t *testing.T, method string, url string, token string, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestRESTServer(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		server, _ := newRESTTestServer(t)

		resp := doRequest(t, "GET", server.URL+"/api/user/chats", "", "")

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid token", func(t *testing.T) {
		server, _ := newRESTTestServer(t)

		resp := doRequest(t, "GET", server.URL+"/api/user/chats", "invalid-token", "")

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("authorize registers token subject", func(t *testing.T) {
		server, storage := newRESTTestServer(t)

		storage.On("CreateUser", mock.Anything, chat.UserId(5), "ana").
			Return(chat.UserInfo{Id: 5, Name: "ana", Chats: []chat.ChatId{}}, nil).Once()

		resp := doRequest(t, "POST", server.URL+"/api/user/authorize", signToken(t, 5), `{"user_name":"ana"}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var userInfo chat.UserInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&userInfo))
		assert.Equal(t, chat.UserId(5), userInfo.Id)
		assert.Equal(t, "ana", userInfo.Name)
	})

	t.Run("duplicate user is a conflict", func(t *testing.T) {
		server, storage := newRESTTestServer(t)

		storage.On("CreateUser", mock.Anything, chat.UserId(5), "ana").
			Return(chat.UserInfo{}, ierr.New(ierr.ErrorCodeAlreadyExists, errors.New("user 5 already exists"))).Once()

		resp := doRequest(t, "POST", server.URL+"/api/user/authorize", signToken(t, 5), `{"user_name":"ana"}`)

		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var body ierr.Error
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, ierr.ErrorCodeAlreadyExists, body.Code)
	})

	t.Run("new group chat", func(t *testing.T) {
		server, storage := newRESTTestServer(t)
		chatId := uuid.New()

		storage.On("CreateChat", mock.Anything, persistence.CreateChatRequest{
			Creator:  5,
			Invited:  []chat.UserId{6, 7},
			ChatType: chat.ChatTypeGroup,
			Name:     "team",
		}).Return(chat.ChatInfo{Id: chatId, Name: "team", Users: []chat.UserId{5, 6, 7}, ChatType: chat.ChatTypeGroup}, nil).Once()

		resp := doRequest(t, "POST", server.URL+"/api/chat/new-group", signToken(t, 5),
			`{"guest_users":[6,7],"new_chat_name":"team"}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var chatInfo chat.ChatInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&chatInfo))
		assert.Equal(t, chatId, chatInfo.Id)
		assert.Equal(t, chat.ChatTypeGroup, chatInfo.ChatType)
	})

	t.Run("invalid chat id", func(t *testing.T) {
		server, _ := newRESTTestServer(t)

		resp := doRequest(t, "GET", server.URL+"/api/chat/info?chat_id=nope", signToken(t, 5), "")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("history of foreign chat", func(t *testing.T) {
		server, storage := newRESTTestServer(t)
		chatId := uuid.New()

		storage.On("ListMessages", mock.Anything, chat.UserId(5), chatId, 20).
			Return(nil, ierr.New(ierr.ErrorCodePermissionDenied, errors.New("not a member"))).Once()

		resp := doRequest(t, "GET", server.URL+"/api/chat/history?limit=20&chat_id="+chatId.String(), signToken(t, 5), "")

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("storage outage", func(t *testing.T) {
		server, storage := newRESTTestServer(t)

		storage.On("GetUserChats", mock.Anything, chat.UserId(5)).
			Return(nil, persistence.Unavailable(errors.New("connection refused"))).Once()

		resp := doRequest(t, "GET", server.URL+"/api/user/chats", signToken(t, 5), "")

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("exit", func(t *testing.T) {
		server, storage := newRESTTestServer(t)
		chatId := uuid.New()

		storage.On("ExitChat", mock.Anything, chat.UserId(5), chatId).Return(nil).Once()

		resp := doRequest(t, "PUT", server.URL+"/api/chat/exit", signToken(t, 5), `{"chat_id":"`+chatId.String()+`"}`)

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var response handler.SuccessResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
		assert.True(t, response.Success)
	})

	t.Run("health reports bridge state", func(t *testing.T) {
		server, _ := newRESTTestServer(t)

		resp := doRequest(t, "GET", server.URL+"/api/health", "", "")

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var health HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "disconnected", health.Bridge)
	})

	t.Run("preflight skips authentication", func(t *testing.T) {
		server, _ := newRESTTestServer(t)

		req, err := http.NewRequest("OPTIONS", server.URL+"/api/chat/exit", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://chat.example.com")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "https://chat.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
