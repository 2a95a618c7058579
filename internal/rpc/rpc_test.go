package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/goevery/chat/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest(t *testing.T) {
	t.Run("notification expects no reply", func(t *testing.T) {
		params := json.RawMessage(`{"msg_text":"hi"}`)
		notification := NewNotification(MethodMessage, &params)

		assert.False(t, notification.ReplyExpected())

		rawJson, err := json.Marshal(notification)
		require.NoError(t, err)
		assert.JSONEq(t, `{"method":"message","params":{"msg_text":"hi"}}`, string(rawJson))
	})

	t.Run("reply carries request id", func(t *testing.T) {
		request := Request{Id: 7, Method: "heartbeat"}
		result := json.RawMessage(`{"ok":true}`)

		response := request.Reply(&result)

		assert.True(t, request.ReplyExpected())
		assert.Equal(t, 7, response.RequestId)
		assert.False(t, response.IsFailure())
	})

	t.Run("error reply", func(t *testing.T) {
		request := Request{Id: 3, Method: "send"}

		response := request.ReplyWithError(ierr.New(ierr.ErrorCodePermissionDenied, errors.New("not a member")))

		assert.True(t, response.IsFailure())

		rawJson, err := json.Marshal(response)
		require.NoError(t, err)
		assert.JSONEq(t, `{"requestId":3,"error":{"code":"PermissionDenied","message":"not a member"}}`, string(rawJson))
	})
}
