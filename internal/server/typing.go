package server

// TypingPresence tracks, per room, the display names currently marked as
// typing. The state is purely ephemeral: rebuilt from the live stream of
// start/stop envelopes, cleared for a sender when their chat-message or
// stop-typing arrives, and dropped wholesale when the room dissolves. No
// timeout runs server-side; staleness is the sending client's problem.
type TypingPresence struct {
	rooms map[string]map[string]struct{}
}

func NewTypingPresence() *TypingPresence {
	return &TypingPresence{rooms: make(map[string]map[string]struct{})}
}

// Start marks name as typing in roomID.
func (t *TypingPresence) Start(roomID, name string) {
	set, ok := t.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		t.rooms[roomID] = set
	}
	set[name] = struct{}{}
}

// Stop clears name's typing mark in roomID.
func (t *TypingPresence) Stop(roomID, name string) {
	set, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(set, name)
	if len(set) == 0 {
		delete(t.rooms, roomID)
	}
}

// ClearRoom drops all typing state for a dissolved room.
func (t *TypingPresence) ClearRoom(roomID string) {
	delete(t.rooms, roomID)
}

// Typing returns the names currently typing in roomID.
func (t *TypingPresence) Typing(roomID string) []string {
	set := t.rooms[roomID]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}
