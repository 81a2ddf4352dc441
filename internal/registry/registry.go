// Package registry is the authoritative in-memory record of who is in which
// room. It owns Room and Participant state exclusively; the relay mutates it
// only through the operations below.
package registry

import (
	"sync"
	"time"

	"github.com/classmeet/classmeet/internal/models"
)

// Registry maps room ids to their participant sets. All mutations are
// serialized behind one mutex; no operation blocks on I/O. A restart loses
// all rooms, which is accepted — clients re-join on reconnect.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*models.Room
	roomOf map[string]string // connection id -> room id
	nowFn  func() time.Time
}

func New() *Registry {
	return &Registry{
		rooms:  make(map[string]*models.Room),
		roomOf: make(map[string]string),
		nowFn:  time.Now,
	}
}

// GetOrCreateRoom returns the room for the given id, creating an empty one
// if it does not exist yet. It never fails.
func (r *Registry) GetOrCreateRoom(roomID string) *models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(roomID)
}

func (r *Registry) getOrCreateLocked(roomID string) *models.Room {
	room, ok := r.rooms[roomID]
	if !ok {
		room = &models.Room{
			ID:           roomID,
			CreatedAt:    r.nowFn(),
			Participants: make(map[string]models.Participant),
		}
		r.rooms[roomID] = room
	}
	return room
}

// AddParticipant inserts the participant into the room, creating the room if
// needed. An existing record under the same connection id is replaced, which
// keeps reconnects from producing duplicate entries.
func (r *Registry) AddParticipant(roomID string, p models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.getOrCreateLocked(roomID)
	room.Participants[p.ID] = p
	r.roomOf[p.ID] = roomID
}

// RemoveParticipant deletes the participant from the room. The room itself is
// deleted once its last participant is removed, so abandoned rooms do not
// accumulate.
func (r *Registry) RemoveParticipant(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room.Participants, connID)
	if current, ok := r.roomOf[connID]; ok && current == roomID {
		delete(r.roomOf, connID)
	}
	if len(room.Participants) == 0 {
		delete(r.rooms, roomID)
	}
}

// ListParticipants returns a snapshot of the room's current participants.
// An unknown room yields an empty slice.
func (r *Registry) ListParticipants(roomID string) []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return []models.Participant{}
	}
	out := make([]models.Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		out = append(out, p)
	}
	return out
}

// UpdateMediaState merges the supplied mute flags into the participant's
// record. A stale update for a room or participant that no longer exists is
// silently ignored.
func (r *Registry) UpdateMediaState(roomID, connID string, state models.MediaState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	p, ok := room.Participants[connID]
	if !ok {
		return
	}
	p.IsAudioMuted = state.IsAudioMuted
	p.IsVideoMuted = state.IsVideoMuted
	room.Participants[connID] = p
}

// RoomOf returns the room the connection is currently joined to, via the
// reverse index maintained alongside the forward mapping. Used for cleanup
// when a connection dies without announcing its membership.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.roomOf[connID]
	return roomID, ok
}

// ListRooms returns a snapshot of all room ids, for sweep-style cleanup.
func (r *Registry) ListRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}
