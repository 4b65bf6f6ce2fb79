package server

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrRoomNotFound reports an operation against an absent room id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotParticipant reports a requester outside the room's membership.
	ErrNotParticipant = errors.New("sender is not a participant")
	// ErrTooFewParticipants reports a creation that would violate the
	// two-participant minimum.
	ErrTooFewParticipants = errors.New("a room needs at least two distinct participants")
)

// unknownName stands in for participant ids with no resolvable display name.
const unknownName = "Unknown"

// Room is a named broadcast group. Membership is a set of session ids: a
// weak, non-owning relation resolved against the SessionRegistry only at
// send time. Name is display-only, recomputed on every membership change;
// iteration order over the set is not stable and does not need to be.
type Room struct {
	ID           string
	Name         string
	participants map[string]struct{}
}

// Has reports whether id is a current participant.
func (r *Room) Has(id string) bool {
	_, ok := r.participants[id]
	return ok
}

// Size returns the current participant count.
func (r *Room) Size() int { return len(r.participants) }

// ParticipantIDs returns a copy of the membership set.
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}

// View builds the wire snapshot of the room.
func (r *Room) View() RoomView {
	return RoomView{ID: r.ID, Name: r.Name, Participants: r.ParticipantIDs()}
}

// LeaveResult describes the outcome of removing one participant from one
// room. Remaining lists the ids still in the room at removal time; when the
// room dissolved they are the participants owed the closing notice, and the
// caller must target them by id because the room itself is already gone.
type LeaveResult struct {
	RoomID    string
	Dissolved bool
	Remaining []string
}

// RoomRegistry owns room existence and membership. It enforces the core
// invariant that no stored room ever has fewer than two participants: any
// mutation dropping membership to one or zero deletes the room in the same
// step. Like SessionRegistry it relies on the Hub's mutex for serialization.
type RoomRegistry struct {
	sessions *SessionRegistry
	rooms    map[string]*Room
}

func NewRoomRegistry(sessions *SessionRegistry) *RoomRegistry {
	return &RoomRegistry{
		sessions: sessions,
		rooms:    make(map[string]*Room),
	}
}

// Get returns the room for an id.
func (rr *RoomRegistry) Get(roomID string) (*Room, bool) {
	room, ok := rr.rooms[roomID]
	return room, ok
}

// Count returns the number of live rooms.
func (rr *RoomRegistry) Count() int {
	return len(rr.rooms)
}

// Create stores a room whose membership is the creator plus the invitees,
// duplicates collapsed. Fewer than two distinct members is an error.
func (rr *RoomRegistry) Create(creatorID string, inviteeIDs []string) (*Room, error) {
	participants := make(map[string]struct{}, len(inviteeIDs)+1)
	participants[creatorID] = struct{}{}
	for _, id := range inviteeIDs {
		participants[id] = struct{}{}
	}
	if len(participants) < 2 {
		return nil, ErrTooFewParticipants
	}

	room := &Room{ID: uuid.NewString(), participants: participants}
	room.Name = rr.composeName(room)
	rr.rooms[room.ID] = room
	return room, nil
}

// Invite grows a room's membership. Ids already present and ids with no live
// session are silently dropped; the add is idempotent. Returns the updated
// room and the ids actually added so the caller can split post-invite
// notifications between pre-existing and new participants.
func (rr *RoomRegistry) Invite(roomID, requesterID string, newIDs []string) (*Room, []string, error) {
	room, ok := rr.rooms[roomID]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	if !room.Has(requesterID) {
		return nil, nil, ErrNotParticipant
	}

	var added []string
	for _, id := range newIDs {
		if room.Has(id) {
			continue
		}
		if _, live := rr.sessions.Resolve(id); !live {
			continue
		}
		room.participants[id] = struct{}{}
		added = append(added, id)
	}

	if len(added) > 0 {
		room.Name = rr.composeName(room)
	}
	return room, added, nil
}

// Leave removes leaverID from the room. A membership of one or zero after
// removal dissolves the room; otherwise the name is recomputed and the room
// survives.
func (rr *RoomRegistry) Leave(roomID, leaverID string) (LeaveResult, error) {
	room, ok := rr.rooms[roomID]
	if !ok {
		return LeaveResult{}, ErrRoomNotFound
	}
	if !room.Has(leaverID) {
		return LeaveResult{}, ErrNotParticipant
	}

	delete(room.participants, leaverID)
	remaining := room.ParticipantIDs()

	if len(remaining) <= 1 {
		delete(rr.rooms, roomID)
		return LeaveResult{RoomID: roomID, Dissolved: true, Remaining: remaining}, nil
	}

	room.Name = rr.composeName(room)
	return LeaveResult{RoomID: roomID, Remaining: remaining}, nil
}

// PurgeSession applies the Leave rule to every room the id belongs to.
// Called when a connection closes.
func (rr *RoomRegistry) PurgeSession(sessionID string) []LeaveResult {
	var results []LeaveResult
	for roomID, room := range rr.rooms {
		if !room.Has(sessionID) {
			continue
		}
		res, err := rr.Leave(roomID, sessionID)
		if err != nil {
			continue
		}
		results = append(results, res)
	}
	return results
}

func (rr *RoomRegistry) composeName(room *Room) string {
	names := make([]string, 0, len(room.participants))
	for id := range room.participants {
		name, ok := rr.sessions.DisplayName(id)
		if !ok {
			name = unknownName
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
