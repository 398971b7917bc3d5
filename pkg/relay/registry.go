package relay

import (
	"sort"
	"sync"

	"github.com/tully-8888/video-chat-app/pkg/transport"
)

type entry struct {
	channel transport.Channel
	roomID  string
}

// Registry is the authoritative map of connected participants and the
// rooms they occupy. It holds no media awareness; rooms are plain member
// sets, created on first join and deleted when they empty out.
//
// A single Registry instance is shared by every channel the Router
// serves. All mutating operations are serialized behind one mutex so the
// registry behaves as a single-writer store.
type Registry struct {
	mu           sync.Mutex
	participants map[string]*entry
	rooms        map[string]map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[string]*entry),
		rooms:        make(map[string]map[string]struct{}),
	}
}

// Register stores the identifier-to-channel mapping. It has no effect on
// rooms. Registering an identifier that is already present fails with
// ErrDuplicateParticipant; duplicates are never merged.
func (r *Registry) Register(participantID string, ch transport.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[participantID]; exists {
		return ErrDuplicateParticipant
	}
	r.participants[participantID] = &entry{channel: ch}
	return nil
}

// JoinRoom adds a registered participant to a room, creating the room if
// absent, and returns the member set excluding the joining participant.
// Re-joining the current room is a no-op returning the same set. Joining
// a different room moves the participant out of the old one first; prior
// then holds the identifiers remaining in the old room so the caller can
// notify them of the departure, and is nil when no move happened.
func (r *Registry) JoinRoom(participantID, roomID string) (others, prior []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, exists := r.participants[participantID]
	if !exists {
		return nil, nil, ErrNotRegistered
	}

	if ent.roomID != "" && ent.roomID != roomID {
		oldRoom := ent.roomID
		r.removeFromRoom(participantID, oldRoom)
		prior = make([]string, 0, len(r.rooms[oldRoom]))
		for id := range r.rooms[oldRoom] {
			prior = append(prior, id)
		}
		sort.Strings(prior)
	}

	members, exists := r.rooms[roomID]
	if !exists {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}

	others = make([]string, 0, len(members))
	for id := range members {
		if id != participantID {
			others = append(others, id)
		}
	}
	sort.Strings(others)

	members[participantID] = struct{}{}
	ent.roomID = roomID

	return others, prior, nil
}

// Leave removes the participant from its room and from the registry.
// It returns the room the participant occupied (empty string if none)
// and the identifiers remaining in that room, so the caller can notify
// survivors. Leaving an unknown participant is a no-op.
func (r *Registry) Leave(participantID string) (string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, exists := r.participants[participantID]
	if !exists {
		return "", nil
	}
	delete(r.participants, participantID)

	if ent.roomID == "" {
		return "", nil
	}

	roomID := ent.roomID
	r.removeFromRoom(participantID, roomID)

	remaining := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		remaining = append(remaining, id)
	}
	sort.Strings(remaining)

	return roomID, remaining
}

// Lookup returns the channel registered for the identifier
func (r *Registry) Lookup(participantID string) (transport.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, exists := r.participants[participantID]
	if !exists {
		return nil, ErrNotFound
	}
	return ent.channel, nil
}

// Room returns the identifier of the room the participant occupies
func (r *Registry) Room(participantID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, exists := r.participants[participantID]
	if !exists || ent.roomID == "" {
		return "", false
	}
	return ent.roomID, true
}

// Participants returns the sorted member set of a room
func (r *Registry) Participants(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	if !exists {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ParticipantCount returns the number of registered participants
func (r *Registry) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// removeFromRoom drops the membership and deletes the room if it empties.
// Caller must hold r.mu.
func (r *Registry) removeFromRoom(participantID, roomID string) {
	members, exists := r.rooms[roomID]
	if !exists {
		return
	}
	delete(members, participantID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
