// Package chat implements the server-side message-routing engine: per-peer
// connections, rooms, the room registry, and the dispatcher that binds them
// to the store and the wire protocol.
package chat

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"conchat/internal/store"
)

const (
	// loginReadTimeout bounds how long an unauthenticated peer may idle
	// before the first valid login.
	loginReadTimeout = 30 * time.Second

	// writeTimeout bounds one outbound frame write.
	writeTimeout = 5 * time.Second

	// inboxSize buffers decoded frames between the reader goroutine and
	// the per-connection handler loop.
	inboxSize = 16
)

// Conn is one connected TCP peer. Writes are serialised; a closed Conn
// ignores sends and further closes.
type Conn struct {
	nc     net.Conn
	closed atomic.Bool

	wmu sync.Mutex // serialises writes to nc

	mu   sync.Mutex // guards user and room
	user *store.User
	room *Room
}

func newConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Send writes one pre-encoded frame. No-op when closed; transport errors
// are logged and the frame dropped.
func (c *Conn) Send(payload []byte) {
	if c.closed.Load() {
		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.nc.Write(payload); err != nil {
		slog.Error("frame write failed", "remote", c.RemoteAddr(), "err", err)
	}
}

// Close shuts the transport down. Idempotent. Deregistration happens in the
// serve loop once the reader unblocks.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if err := c.nc.Close(); err != nil {
		slog.Debug("transport close", "remote", c.RemoteAddr(), "err", err)
	}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

// User returns the authenticated user, or nil before login.
func (c *Conn) User() *store.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Conn) setUser(u *store.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// Room returns the room this connection currently occupies, or nil.
func (c *Conn) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// setRoom rebinds the connection. Assigning a new room removes the
// connection from its previous room's membership set first; membership in
// the new room is added by the registry.
func (c *Conn) setRoom(r *Room) {
	c.mu.Lock()
	old := c.room
	c.room = r
	c.mu.Unlock()

	if old != nil && old != r {
		old.remove(c)
	}
}

func (c *Conn) armLoginDeadline() {
	_ = c.nc.SetReadDeadline(time.Now().Add(loginReadTimeout))
}

func (c *Conn) clearReadDeadline() {
	_ = c.nc.SetReadDeadline(time.Time{})
}
