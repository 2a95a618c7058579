package registry

import (
	"testing"

	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"github.com/stretchr/testify/assert"
)

func TestConnectionRegistry(t *testing.T) {
	t.Run("register is idempotent", func(t *testing.T) {
		registry := NewConnectionRegistry()
		conn := NewConnection("c1", 1)

		registry.Register(1, conn)
		registry.Register(1, conn)

		assert.Equal(t, []*Connection{conn}, registry.ConnectionsOf(1))
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("closing one connection keeps the others", func(t *testing.T) {
		registry := NewConnectionRegistry()
		c1 := NewConnection("c1", 1)
		c2 := NewConnection("c2", 1)

		registry.Register(1, c1)
		registry.Register(1, c2)
		registry.Unregister(1, c1)

		assert.Equal(t, []*Connection{c2}, registry.ConnectionsOf(1))
	})

	t.Run("unregister unknown pair is a no-op", func(t *testing.T) {
		registry := NewConnectionRegistry()
		conn := NewConnection("c1", 1)
		registry.Register(1, conn)

		registry.Unregister(2, conn)
		registry.Unregister(1, NewConnection("c2", 1))
		registry.Unregister(1, conn)
		registry.Unregister(1, conn)

		assert.Empty(t, registry.ConnectionsOf(1))
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("connection is held by at most one user", func(t *testing.T) {
		registry := NewConnectionRegistry()
		conn := NewConnection("c1", 1)

		registry.Register(1, conn)
		registry.Register(2, conn)

		assert.Empty(t, registry.ConnectionsOf(1))
		assert.Equal(t, []*Connection{conn}, registry.ConnectionsOf(2))
	})

	t.Run("unknown user has no connections", func(t *testing.T) {
		registry := NewConnectionRegistry()

		assert.Empty(t, registry.ConnectionsOf(99))
	})
}

func TestConnection(t *testing.T) {
	t.Run("push drops when buffer is full", func(t *testing.T) {
		conn := NewConnection("c1", 1)

		assert.True(t, conn.Push([]byte("a")))
		assert.False(t, conn.Push([]byte("b")))
		assert.Equal(t, []byte("a"), <-conn.Send)
	})

	t.Run("push after close is dropped", func(t *testing.T) {
		conn := NewConnection("c1", 1)

		conn.Close()
		conn.Close()

		assert.False(t, conn.Push([]byte("a")))
	})

	t.Run("authenticate once", func(t *testing.T) {
		conn := NewConnection("c1", 1)

		_, ok := conn.GetUserId()
		assert.False(t, ok)

		err := conn.Authenticate(auth.Authentication{UserId: 7})
		assert.NoError(t, err)

		userId, ok := conn.GetUserId()
		assert.True(t, ok)
		assert.Equal(t, chat.UserId(7), userId)

		err = conn.Authenticate(auth.Authentication{UserId: 8})
		assert.Equal(t, ierr.ErrorCodeFailedPrecondition, ierr.CodeOf(err))
	})
}

func TestGenerateConnectionId(t *testing.T) {
	first := GenerateConnectionId()
	second := GenerateConnectionId()

	assert.Len(t, first, 21)
	assert.NotEqual(t, first, second)
}
