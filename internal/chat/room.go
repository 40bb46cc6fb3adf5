package chat

import (
	"log/slog"
	"sort"
	"sync"
)

// Room is one named conversation space. The membership set is the source of
// truth for presence; connections hold the room only as a back-reference.
type Room struct {
	ID   string
	Name string

	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewRoom returns an empty room for the given persisted identity.
func NewRoom(id, name string) *Room {
	return &Room{
		ID:    id,
		Name:  name,
		conns: make(map[*Conn]struct{}),
	}
}

func (r *Room) add(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	n := len(r.conns)
	r.mu.Unlock()

	slog.Debug("room join", "room", r.Name, "members", n)
}

func (r *Room) remove(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	n := len(r.conns)
	r.mu.Unlock()

	slog.Debug("room leave", "room", r.Name, "members", n)
}

// Contains reports whether c is a member.
func (r *Room) Contains(c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c]
	return ok
}

// MemberCount returns the current membership size.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast delivers one encoded frame to every member. Per-recipient write
// failures are logged inside Send and never abort the fan-out; closed
// connections ignore the write.
func (r *Room) Broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.conns {
		c.Send(payload)
	}
}

// Usernames returns the sorted usernames of all authenticated members.
func (r *Room) Usernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.conns))
	for c := range r.conns {
		if u := c.User(); u != nil {
			names = append(names, u.Username)
		}
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
