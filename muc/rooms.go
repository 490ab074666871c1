package muc

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"xmppchat/stanza"
)

// Room is a multi-user chat the local account currently occupies.
type Room struct {
	JID      string
	Nickname string
}

// Registry tracks joined rooms. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]Room)}
}

// Join records that the account occupies roomJID under nickname.
func (r *Registry) Join(roomJID, nickname string) error {
	roomJID = stanza.Bare(strings.TrimSpace(roomJID))
	if roomJID == "" {
		return errors.New("room jid is required")
	}
	if strings.TrimSpace(nickname) == "" {
		return errors.New("nickname is required")
	}

	r.mu.Lock()
	r.rooms[strings.ToLower(roomJID)] = Room{JID: roomJID, Nickname: nickname}
	r.mu.Unlock()
	return nil
}

// Leave forgets roomJID. Leaving a room that was never joined is a no-op.
func (r *Registry) Leave(roomJID string) {
	r.mu.Lock()
	delete(r.rooms, strings.ToLower(stanza.Bare(roomJID)))
	r.mu.Unlock()
}

// Lookup returns the joined room matching roomJID.
func (r *Registry) Lookup(roomJID string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[strings.ToLower(stanza.Bare(roomJID))]
	return room, ok
}

// RoomsJoined returns a snapshot of joined rooms ordered by JID.
func (r *Registry) RoomsJoined() []Room {
	r.mu.RLock()
	rooms := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].JID < rooms[j].JID })
	return rooms
}
