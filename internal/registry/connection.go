package registry

import (
	"errors"
	"sync"

	"github.com/goevery/chat/internal/auth"
	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
)

// Connection is one live transport session. Payloads pushed to it are
// queued on Send and written out by the transport.
type Connection struct {
	Id   string
	Send chan []byte

	mu             sync.RWMutex
	authentication *auth.Authentication
	closed         bool
}

func NewConnection(id string, bufferSize int) *Connection {
	return &Connection{
		Id:   id,
		Send: make(chan []byte, bufferSize),
	}
}

func (c *Connection) Authenticate(authentication auth.Authentication) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authentication != nil {
		return ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("connection is already authenticated"))
	}

	c.authentication = &authentication

	return nil
}

func (c *Connection) GetAuthentication() *auth.Authentication {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.authentication
}

func (c *Connection) GetUserId() (chat.UserId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.authentication == nil {
		return 0, false
	}

	return c.authentication.UserId, true
}

// Push queues payload without blocking. It reports false when the
// connection is closed or its buffer is full, in which case the payload
// is dropped.
func (c *Connection) Push(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.Send)
}

// ConnectionRegistry maps users to their currently open connections.
type ConnectionRegistry struct {
	mu sync.RWMutex

	connectionsByUser map[chat.UserId]map[*Connection]struct{}
	userByConnection  map[*Connection]chat.UserId
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connectionsByUser: make(map[chat.UserId]map[*Connection]struct{}),
		userByConnection:  make(map[*Connection]chat.UserId),
	}
}

// Register adds conn under userId. A connection already held by another
// user is moved, so it is never listed under two users.
func (r *ConnectionRegistry) Register(userId chat.UserId, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.userByConnection[conn]; ok && previous != userId {
		r.unregisterLocked(previous, conn)
	}

	if _, ok := r.connectionsByUser[userId]; !ok {
		r.connectionsByUser[userId] = make(map[*Connection]struct{})
	}

	r.connectionsByUser[userId][conn] = struct{}{}
	r.userByConnection[conn] = userId
}

func (r *ConnectionRegistry) Unregister(userId chat.UserId, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregisterLocked(userId, conn)
}

// IMPORTANT: It must be called only when a write lock is already held.
func (r *ConnectionRegistry) unregisterLocked(userId chat.UserId, conn *Connection) {
	if owner, ok := r.userByConnection[conn]; !ok || owner != userId {
		return
	}

	delete(r.userByConnection, conn)

	userConnections, ok := r.connectionsByUser[userId]
	if !ok {
		panic("inconsistent state: user not found in connectionsByUser")
	}

	delete(userConnections, conn)
	if len(userConnections) == 0 {
		delete(r.connectionsByUser, userId)
	}
}

// ConnectionsOf returns a snapshot of the user's open connections.
func (r *ConnectionRegistry) ConnectionsOf(userId chat.UserId) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConnections := r.connectionsByUser[userId]

	connections := make([]*Connection, 0, len(userConnections))
	for conn := range userConnections {
		connections = append(connections, conn)
	}

	return connections
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.userByConnection)
}
