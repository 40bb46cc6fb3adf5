package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"conchat/internal/store"
)

// Registry maps room ids to live Room objects. Rooms other than the pinned
// Lobby are materialised lazily on first reference and evicted once empty;
// the persisted row survives eviction.
type Registry struct {
	store *store.Store

	mu     sync.Mutex
	byID   map[string]*Room
	byName map[string]*Room
	lobby  *Room
}

// NewRegistry loads the Lobby row and pins it for the server lifetime.
func NewRegistry(ctx context.Context, st *store.Store) (*Registry, error) {
	row, err := st.RoomByName(ctx, store.LobbyName)
	if err != nil {
		return nil, fmt.Errorf("load lobby: %w", err)
	}

	lobby := NewRoom(row.ID, row.Name)
	r := &Registry{
		store:  st,
		byID:   map[string]*Room{lobby.ID: lobby},
		byName: map[string]*Room{lobby.Name: lobby},
		lobby:  lobby,
	}
	return r, nil
}

// Lobby returns the pinned default room.
func (r *Registry) Lobby() *Room { return r.lobby }

// Get returns the in-memory room with the given id.
func (r *Registry) Get(id string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byID[id]
	return room, ok
}

// GetOrLoad resolves a room by name: in-memory first, then the store.
// Returns store.ErrNotFound when no such room is persisted. "Lobby" always
// resolves to the pinned object.
func (r *Registry) GetOrLoad(ctx context.Context, name string) (*Room, error) {
	if name == store.LobbyName {
		return r.lobby, nil
	}

	r.mu.Lock()
	if room, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return room, nil
	}
	r.mu.Unlock()

	row, err := r.store.RoomByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.materialize(row), nil
}

// Create persists a new room and materialises it. Uniqueness failures
// surface as store.ErrConstraint.
func (r *Registry) Create(ctx context.Context, name string) (*Room, error) {
	row, err := r.store.InsertRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.materialize(row), nil
}

func (r *Registry) materialize(row store.Room) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have materialised it while we queried.
	if room, ok := r.byID[row.ID]; ok {
		return room
	}
	room := NewRoom(row.ID, row.Name)
	r.byID[room.ID] = room
	r.byName[room.Name] = room
	slog.Debug("room materialized", "room_id", room.ID, "name", room.Name)
	return room
}

// Join moves a connection into room, leaving its previous room first. The
// registry lock is held across the membership update so a Cleanup running
// between room resolution and join cannot leave the member in an unmapped
// room; a room evicted in that window is re-inserted here.
func (r *Registry) Join(room *Room, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[room.ID]; !ok {
		r.byID[room.ID] = room
		r.byName[room.Name] = room
	}
	c.setRoom(room)
	room.add(c)
}

// Leave detaches a connection from whatever room it occupies.
func (r *Registry) Leave(c *Conn) {
	c.setRoom(nil)
}

// Cleanup evicts empty non-Lobby rooms from memory. Run after every
// deregister; persisted rows are untouched.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, room := range r.byID {
		if room == r.lobby || room.MemberCount() > 0 {
			continue
		}
		delete(r.byID, id)
		delete(r.byName, room.Name)
		slog.Debug("room evicted", "room_id", id, "name", room.Name)
	}
}

// RoomCount returns how many rooms are currently materialised.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
