package realtime

import (
	"sync"

	"github.com/example/ezmove/internal/tracking/domain"
)

// Rooms routes events to named groups of sessions. Each session's own set of rooms
// is kept alongside so a disconnect can leave all of them at once.
type Rooms struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]domain.Session
	membership map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:      make(map[string]map[string]domain.Session),
		membership: make(map[string]map[string]struct{}),
	}
}

// Join adds the session to room. Joining twice is a no-op.
func (r *Rooms) Join(room string, s domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]domain.Session)
		r.rooms[room] = members
	}
	members[s.ID()] = s

	joined, ok := r.membership[s.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.membership[s.ID()] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes the session from room if present.
func (r *Rooms) Leave(room string, s domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, s.ID())
}

// LeaveAll removes the session from every room it joined and returns those rooms.
func (r *Rooms) LeaveAll(s domain.Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := r.membership[s.ID()]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
		r.leaveLocked(room, s.ID())
	}
	delete(r.membership, s.ID())
	return left
}

func (r *Rooms) leaveLocked(room, sessionID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.membership[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.membership, sessionID)
		}
	}
}

// Broadcast emits the event to every current member of room and returns how many accepted it.
// Emission happens outside the lock.
func (r *Rooms) Broadcast(room, event string, payload any) int {
	r.mu.RLock()
	members := make([]domain.Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if err := s.Emit(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Members returns the number of sessions in room.
func (r *Rooms) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// RoomsOf returns the rooms the session is currently in.
func (r *Rooms) RoomsOf(s domain.Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.membership[s.ID()]))
	for room := range r.membership[s.ID()] {
		rooms = append(rooms, room)
	}
	return rooms
}
