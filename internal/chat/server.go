package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"conchat/internal/auth"
	"conchat/internal/protocol"
	"conchat/internal/store"
)

// Server accepts TCP peers and routes every decoded frame to its handler.
// One goroutine per connection reads frames into an inbox channel; a single
// consumer per connection processes them sequentially, so per-peer handler
// ordering matches arrival order.
type Server struct {
	store    *store.Store
	registry *Registry
	hasher   *auth.Hasher

	mu    sync.Mutex
	conns map[*Conn]struct{}
	users map[string]*Conn // user id → connection, bound on login

	framesIn  atomic.Uint64
	delivered atomic.Uint64
}

// New wires a Server to its collaborators.
func New(st *store.Store, reg *Registry, h *auth.Hasher) *Server {
	return &Server{
		store:    st,
		registry: reg,
		hasher:   h,
		conns:    make(map[*Conn]struct{}),
		users:    make(map[string]*Conn),
	}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	slog.Info("chat server listening", "addr", ln.Addr().String())
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serve(ctx, nc)
	}
}

// serve owns one connection's lifetime: register, read/dispatch, deregister.
func (s *Server) serve(ctx context.Context, nc net.Conn) {
	c := newConn(nc)
	s.register(c)
	defer s.deregister(c)

	slog.Info("connection accepted", "remote", c.RemoteAddr())
	c.armLoginDeadline()

	inbox := make(chan protocol.Message, inboxSize)
	go func() {
		defer close(inbox)
		dec := protocol.NewDecoder(nc)
		for {
			msg, err := dec.Next()
			if err != nil {
				if errors.Is(err, protocol.ErrMalformedFrame) {
					// Protocol-level fatal: close without a response.
					slog.Warn("malformed frame", "remote", c.RemoteAddr(), "err", err)
					c.Close()
				} else if !errors.Is(err, io.EOF) && !c.Closed() {
					slog.Debug("read loop ended", "remote", c.RemoteAddr(), "err", err)
				}
				return
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range inbox {
		s.framesIn.Add(1)
		s.dispatch(ctx, c, msg)
	}
}

// dispatch routes one decoded frame. Response-only types arriving inbound
// are dropped, matching the original server's default case.
func (s *Server) dispatch(ctx context.Context, c *Conn, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Register:
		s.handleRegister(ctx, c, m)
	case *protocol.Login:
		s.handleLogin(ctx, c, m)
	case *protocol.Logout:
		s.handleLogout(c, m)
	case *protocol.JoinRoom:
		s.handleJoinRoom(ctx, c, m)
	case *protocol.CreateRoom:
		s.handleCreateRoom(ctx, c, m)
	case *protocol.ListRooms:
		s.handleListRooms(ctx, c)
	case *protocol.ListUsers:
		s.handleListUsers(c, m)
	case *protocol.Chat:
		s.handleChat(ctx, c, m)
	case *protocol.Blacklist:
		s.handleBlacklist(ctx, c, m)
	case *protocol.Unblock:
		s.handleUnblock(ctx, c, m)
	default:
	}
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

// deregister runs exactly once per connection, regardless of how the read
// loop terminated, then triggers the room cleanup pass.
func (s *Server) deregister(c *Conn) {
	c.Close()

	s.mu.Lock()
	delete(s.conns, c)
	if u := c.User(); u != nil && s.users[u.ID] == c {
		delete(s.users, u.ID)
	}
	s.mu.Unlock()

	s.registry.Leave(c)
	s.registry.Cleanup()
	slog.Info("connection closed", "remote", c.RemoteAddr())
}

// bindUser records the user id → connection mapping used for DM delivery.
// A second login for the same user replaces the mapping.
func (s *Server) bindUser(id string, c *Conn) {
	s.mu.Lock()
	s.users[id] = c
	s.mu.Unlock()
}

// userConn resolves a user id to its live connection, or nil.
func (s *Server) userConn(id string) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

// ClientCount returns the number of registered connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// RoomCount returns the number of materialised rooms.
func (s *Server) RoomCount() int { return s.registry.RoomCount() }

// Stats returns frames handled and messages delivered since the last call,
// plus the current client count.
func (s *Server) Stats() (frames, delivered uint64, clients int) {
	frames = s.framesIn.Swap(0)
	delivered = s.delivered.Swap(0)
	clients = s.ClientCount()
	return
}
