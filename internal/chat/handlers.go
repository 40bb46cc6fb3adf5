package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"conchat/internal/auth"
	"conchat/internal/protocol"
	"conchat/internal/store"
)

// Human-readable error messages paired with the wire error tokens.
const (
	msgUsernameExists          = "username already exists"
	msgInvalidBlacklist        = "Error blocking user"
	msgInvalidUsernamePassword = "invalid username or password"
	msgInvalidMessageTarget    = "room or user does not exist"
	msgServerError             = "server error"
)

// send encodes and writes one message to a single peer.
func (s *Server) send(c *Conn, m protocol.Message) {
	payload, err := protocol.Encode(m)
	if err != nil {
		slog.Error("encode outbound frame", "type", m.Type(), "err", err)
		return
	}
	c.Send(payload)
}

// sendError reports a user-visible failure back to the originating peer.
func (s *Server) sendError(c *Conn, errType, message string) {
	s.send(c, &protocol.Error{ErrorType: errType, Message: message})
}

func (s *Server) handleRegister(ctx context.Context, c *Conn, m *protocol.Register) {
	username := strings.TrimSpace(m.Username)
	password := strings.TrimSpace(m.Password)
	if username == "" || password == "" {
		s.sendError(c, protocol.ErrTypeInvalidUsernamePassword, msgInvalidUsernamePassword)
		return
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		slog.Error("hash password", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	user, err := s.store.InsertUser(ctx, username, hash)
	if errors.Is(err, store.ErrConstraint) {
		s.sendError(c, protocol.ErrTypeUsernameExists, msgUsernameExists)
		return
	}
	if err != nil {
		slog.Error("insert user", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	s.send(c, &protocol.RegisterResponse{Username: user.Username, Status: "registered"})
}

func (s *Server) handleLogin(ctx context.Context, c *Conn, m *protocol.Login) {
	username := strings.TrimSpace(m.Username)
	password := strings.TrimSpace(m.Password)
	if username == "" || password == "" {
		s.sendError(c, protocol.ErrTypeInvalidUsernamePassword, msgInvalidUsernamePassword)
		return
	}

	user, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(c, protocol.ErrTypeInvalidUsernamePassword, msgInvalidUsernamePassword)
		return
	}
	if err != nil {
		slog.Error("query user", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	if err := s.hasher.Verify(ctx, user.Password, password); err != nil {
		if !errors.Is(err, auth.ErrMismatch) {
			slog.Error("verify password", "err", err)
			s.sendError(c, protocol.ErrTypeServerError, msgServerError)
			return
		}
		s.sendError(c, protocol.ErrTypeInvalidUsernamePassword, msgInvalidUsernamePassword)
		return
	}

	user.Password = ""
	c.setUser(&user)
	s.bindUser(user.ID, c)
	c.clearReadDeadline()

	lobby := s.registry.Lobby()
	s.send(c, &protocol.LoginResponse{
		Username: user.Username,
		ID:       user.ID,
		RoomID:   lobby.ID,
		RoomName: lobby.Name,
	})
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)

	s.registry.Join(lobby, c)
	s.sendHistory(ctx, c, lobby)
}

func (s *Server) handleLogout(c *Conn, m *protocol.Logout) {
	user := c.User()
	if user == nil || strings.TrimSpace(m.ID) != user.ID {
		return // wrong session state: silent drop
	}
	slog.Info("user logged out", "user_id", user.ID, "username", user.Username)
	c.Close()
}

func (s *Server) handleJoinRoom(ctx context.Context, c *Conn, m *protocol.JoinRoom) {
	user := c.User()
	if user == nil || strings.TrimSpace(m.UserID) != user.ID {
		return
	}

	name := strings.TrimSpace(m.RoomName)
	if name == "" {
		s.sendError(c, protocol.ErrTypeRoomNotFound, "room name is required")
		return
	}

	room, err := s.registry.GetOrLoad(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(c, protocol.ErrTypeRoomNotFound, "Room "+name+" not found")
		return
	}
	if err != nil {
		slog.Error("load room", "name", name, "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	s.registry.Join(room, c)
	s.send(c, &protocol.JoinRoomResponse{UserID: user.ID, RoomName: room.Name, RoomID: room.ID})
	s.sendHistory(ctx, c, room)
}

func (s *Server) handleCreateRoom(ctx context.Context, c *Conn, m *protocol.CreateRoom) {
	user := c.User()
	if user == nil {
		return
	}

	name := strings.TrimSpace(m.Name)
	if name == "" {
		s.sendError(c, protocol.ErrTypeInvalidRoom, "room name is required")
		return
	}

	room, err := s.registry.Create(ctx, name)
	if errors.Is(err, store.ErrConstraint) {
		s.sendError(c, protocol.ErrTypeInvalidRoom, "Room already exists")
		return
	}
	if err != nil {
		slog.Error("create room", "name", name, "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	s.send(c, &protocol.CreateRoomResponse{Name: room.Name})
	s.registry.Join(room, c)
	s.send(c, &protocol.JoinRoomResponse{UserID: user.ID, RoomName: room.Name, RoomID: room.ID})
	s.sendHistory(ctx, c, room)
}

func (s *Server) handleListRooms(ctx context.Context, c *Conn) {
	rooms, err := s.store.RoomList(ctx)
	if err != nil {
		slog.Error("list rooms", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	names := make([]string, 0, len(rooms)+1)
	hasLobby := false
	for _, r := range rooms {
		if r.Name == store.LobbyName {
			hasLobby = true
		}
		names = append(names, r.Name)
	}
	// The lobby always exists for clients, even if the query came back
	// without it.
	if !hasLobby {
		names = append(names, store.LobbyName)
		sort.Strings(names)
	}

	s.send(c, &protocol.ListRooms{Rooms: names})
}

func (s *Server) handleListUsers(c *Conn, m *protocol.ListUsers) {
	room, ok := s.registry.Get(strings.TrimSpace(m.RoomID))
	if !ok {
		s.sendError(c, protocol.ErrTypeRoomNotFound, "room not found")
		return
	}
	s.send(c, &protocol.ListUsers{RoomID: room.ID, RoomName: room.Name, Users: room.Usernames()})
}

// handleChat validates, persists, and routes each item of a chat batch
// independently: room items fan out to the room, DM items go to sender and
// target. Items the blacklist trigger rejects are dropped without any
// response to the sender.
func (s *Server) handleChat(ctx context.Context, c *Conn, m *protocol.Chat) {
	author := c.User()
	if author == nil {
		return
	}

	for _, item := range m.Messages {
		if strings.TrimSpace(item.AuthorID) != author.ID {
			continue // spoofed author: wrong session state
		}

		body := strings.TrimSpace(item.Body)
		roomID := strings.TrimSpace(item.RoomID)
		targetID := strings.TrimSpace(item.TargetUserID)
		targetName := strings.TrimSpace(item.TargetUsername)

		if body == "" {
			s.sendError(c, protocol.ErrTypeInvalidMessageTarget, msgInvalidMessageTarget)
			continue
		}
		if targetID == "" && targetName != "" {
			target, err := s.store.UserByUsername(ctx, targetName)
			if errors.Is(err, store.ErrNotFound) {
				s.sendError(c, protocol.ErrTypeInvalidMessageTarget, msgInvalidMessageTarget)
				continue
			}
			if err != nil {
				slog.Error("resolve dm target", "err", err)
				s.sendError(c, protocol.ErrTypeServerError, msgServerError)
				return
			}
			targetID = target.ID
		}
		if roomID == "" && targetID == "" {
			s.sendError(c, protocol.ErrTypeInvalidMessageTarget, msgInvalidMessageTarget)
			continue
		}

		stored, err := s.store.InsertMessage(ctx, author.ID, roomID, targetID, body)
		if errors.Is(err, store.ErrForeignKey) {
			// roomid or target_userid names a row that does not exist.
			s.sendError(c, protocol.ErrTypeInvalidMessageTarget, msgInvalidMessageTarget)
			continue
		}
		if errors.Is(err, store.ErrConstraint) {
			// Blocked by the target. The sender gets no confirmation.
			slog.Debug("message rejected at write time", "author_id", author.ID, "err", err)
			continue
		}
		if err != nil {
			slog.Error("insert message", "err", err)
			s.sendError(c, protocol.ErrTypeServerError, msgServerError)
			return
		}

		s.route(c, stored)
	}
}

// route delivers one persisted message: to its room when it has one,
// otherwise to sender and DM target.
func (s *Server) route(sender *Conn, m store.Message) {
	out := &protocol.Chat{Messages: []protocol.ChatItem{wireItem(m)}}
	payload, err := protocol.Encode(out)
	if err != nil {
		slog.Error("encode chat frame", "err", err)
		return
	}

	if m.RoomID != store.SentinelID {
		if room, ok := s.registry.Get(m.RoomID); ok {
			room.Broadcast(payload)
			s.delivered.Add(uint64(room.MemberCount()))
		}
		return
	}

	sender.Send(payload)
	s.delivered.Add(1)
	if tc := s.userConn(m.TargetUserID); tc != nil && tc != sender {
		tc.Send(payload)
		s.delivered.Add(1)
	}
}

// sendHistory replays the recent message window of a room to one peer.
// Nothing is sent for an empty window.
func (s *Server) sendHistory(ctx context.Context, c *Conn, room *Room) {
	msgs, err := s.store.RoomMessages(ctx, room.ID, store.DefaultHistoryLimit)
	if err != nil {
		slog.Error("load room history", "room_id", room.ID, "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}
	if len(msgs) == 0 {
		return
	}

	items := make([]protocol.ChatItem, len(msgs))
	for i, m := range msgs {
		items[i] = wireItem(m)
	}
	s.send(c, &protocol.Chat{Messages: items})
}

func (s *Server) handleBlacklist(ctx context.Context, c *Conn, m *protocol.Blacklist) {
	user := c.User()
	if user == nil || strings.TrimSpace(m.UserID) != user.ID {
		return
	}

	name := strings.TrimSpace(m.BlockedUsername)
	if name == "" {
		s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
		return
	}

	blocked, err := s.store.UserByUsername(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
		return
	}
	if err != nil {
		slog.Error("resolve blocked user", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}
	if blocked.ID == user.ID {
		s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
		return
	}

	if err := s.store.InsertBlacklist(ctx, user.ID, blocked.ID); err != nil {
		if errors.Is(err, store.ErrConstraint) {
			s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
			return
		}
		slog.Error("insert blacklist", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	slog.Info("user blocked", "user_id", user.ID, "blocked_user_id", blocked.ID)
	s.send(c, &protocol.BlacklistResponse{UserID: user.ID, BlockedUsername: blocked.Username})
}

func (s *Server) handleUnblock(ctx context.Context, c *Conn, m *protocol.Unblock) {
	user := c.User()
	if user == nil || strings.TrimSpace(m.UserID) != user.ID {
		return
	}

	name := strings.TrimSpace(m.BlockedUsername)
	if name == "" {
		s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
		return
	}

	blocked, err := s.store.UserByUsername(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
		return
	}
	if err != nil {
		slog.Error("resolve blocked user", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}

	deleted, err := s.store.DeleteBlacklist(ctx, user.ID, blocked.ID)
	if err != nil {
		slog.Error("delete blacklist", "err", err)
		s.sendError(c, protocol.ErrTypeServerError, msgServerError)
		return
	}
	if !deleted {
		s.sendError(c, protocol.ErrTypeInvalidBlacklist, msgInvalidBlacklist)
		return
	}

	slog.Info("user unblocked", "user_id", user.ID, "blocked_user_id", blocked.ID)
	s.send(c, &protocol.UnblockResponse{UserID: user.ID, BlockedUsername: blocked.Username})
}

// wireItem converts a stored message row to its wire form. Sentinel ids are
// blanked so clients see "" rather than the placeholder.
func wireItem(m store.Message) protocol.ChatItem {
	roomID := m.RoomID
	if roomID == store.SentinelID {
		roomID = ""
	}
	targetID := m.TargetUserID
	if targetID == store.SentinelID {
		targetID = ""
	}
	return protocol.ChatItem{
		ID:           m.ID,
		AuthorName:   m.AuthorName,
		AuthorID:     m.AuthorID,
		RoomID:       roomID,
		TargetUserID: targetID,
		Body:         m.Body,
		CreateDate:   m.CreateDate,
	}
}
