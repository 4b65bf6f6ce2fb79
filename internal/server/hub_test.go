package server

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// Test clients carry a nil connection, so the hub never starts pumps for
// them: HandleInbound runs synchronously and outbound envelopes queue on the
// send channel where the assertions can read them back.

func newHubClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(nil, h, "test-conn", DefaultConfig().Socket)
	h.Register(c)
	return c
}

func send(t *testing.T, h *Hub, c *Client, env any) {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal inbound envelope: %v", err)
	}
	h.HandleInbound(c, raw)
}

func recv(t *testing.T, c *Client) map[string]any {
	t.Helper()
	var data []byte
	select {
	case d, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		data = d
	default:
		t.Fatal("expected a queued envelope, found none")
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("outbound envelope is not valid JSON: %v", err)
	}
	return msg
}

func recvType(t *testing.T, c *Client, want string) map[string]any {
	t.Helper()
	msg := recv(t, c)
	if msg["type"] != want {
		t.Fatalf("expected envelope type %q, got %q", want, msg["type"])
	}
	return msg
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected envelope: %s", data)
		}
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func loginUser(t *testing.T, h *Hub, name string) (*Client, string) {
	t.Helper()
	c := newHubClient(t, h)
	send(t, h, c, Envelope{Type: TypeLogin, Name: name})
	msg := recvType(t, c, TypeLoginSuccess)
	id, _ := msg["id"].(string)
	if id == "" {
		t.Fatal("login-success carried no session id")
	}
	return c, id
}

func makeRoom(t *testing.T, h *Hub, creator *Client, invitees ...string) string {
	t.Helper()
	drain(creator)
	send(t, h, creator, Envelope{Type: TypeCreateRoom, Participants: invitees})
	msg := recvType(t, creator, TypeRoomCreated)
	room, _ := msg["room"].(map[string]any)
	id, _ := room["id"].(string)
	if id == "" {
		t.Fatal("room-created carried no room id")
	}
	return id
}

func TestLoginRepliesAndBroadcastsDirectory(t *testing.T) {
	h := NewHub()

	alice, aliceID := loginUser(t, h, "Alice")
	dir := recvType(t, alice, TypeUpdateUsers)
	if users, _ := dir["users"].([]any); len(users) != 1 {
		t.Fatalf("expected 1 directory entry after first login, got %v", dir["users"])
	}

	bob, bobID := loginUser(t, h, "Bob")
	if bobID == aliceID {
		t.Fatal("two sessions share an id")
	}

	// Bob's login re-broadcasts the full directory to everyone logged in.
	for _, c := range []*Client{alice, bob} {
		dir := recvType(t, c, TypeUpdateUsers)
		users, _ := dir["users"].([]any)
		if len(users) != 2 {
			t.Fatalf("expected 2 directory entries, got %d", len(users))
		}
	}
}

func TestPreLoginEnvelopesAreDropped(t *testing.T) {
	h := NewHub()
	_, bobID := loginUser(t, h, "Bob")

	c := newHubClient(t, h)
	send(t, h, c, Envelope{Type: TypeCreateRoom, Participants: []string{bobID}})
	send(t, h, c, Envelope{Type: TypeChatMessage, RoomID: "whatever", Content: "hi"})
	expectNone(t, c)

	// Blank display names never authenticate.
	send(t, h, c, Envelope{Type: TypeLogin, Name: "   "})
	expectNone(t, c)

	// A proper login still works afterwards.
	send(t, h, c, Envelope{Type: TypeLogin, Name: "Late"})
	recvType(t, c, TypeLoginSuccess)
}

func TestSecondLoginIsRejected(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	drain(alice)

	send(t, h, alice, Envelope{Type: TypeLogin, Name: "Mallory"})
	expectNone(t, alice)
	if got := alice.Session().Name(); got != "Alice" {
		t.Errorf("re-login changed the display name to %q", got)
	}
}

func TestCreateRoomNotifiesEveryParticipant(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	drain(alice)
	drain(bob)

	roomID := makeRoom(t, h, alice, bobID)

	msg := recvType(t, bob, TypeRoomCreated)
	room, _ := msg["room"].(map[string]any)
	if room["id"] != roomID {
		t.Errorf("participants saw different room ids: %v vs %v", room["id"], roomID)
	}
	name, _ := room["name"].(string)
	if !strings.Contains(name, "Alice") || !strings.Contains(name, "Bob") {
		t.Errorf("room name %q missing a participant name", name)
	}
	participants, _ := room["participants"].([]any)
	if len(participants) != 2 {
		t.Errorf("expected 2 participants, got %v", participants)
	}
}

func TestCreateRoomBelowMinimumIsDropped(t *testing.T) {
	h := NewHub()
	alice, aliceID := loginUser(t, h, "Alice")
	drain(alice)

	send(t, h, alice, Envelope{Type: TypeCreateRoom, Participants: nil})
	send(t, h, alice, Envelope{Type: TypeCreateRoom, Participants: []string{aliceID}})
	expectNone(t, alice)
	if h.rooms.Count() != 0 {
		t.Errorf("rejected creations stored %d rooms", h.rooms.Count())
	}
}

func TestChatMessageReachesWholeRoom(t *testing.T) {
	h := NewHub()
	alice, aliceID := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	eve, _ := loginUser(t, h, "Eve")
	roomID := makeRoom(t, h, alice, bobID)
	drain(bob)
	drain(eve)

	send(t, h, alice, Envelope{Type: TypeChatMessage, RoomID: roomID, Content: "hello"})

	var first float64
	// The sender hears their own message back, in room order.
	for _, c := range []*Client{alice, bob} {
		msg := recvType(t, c, TypeChatMessage)
		if msg["senderId"] != aliceID || msg["senderName"] != "Alice" {
			t.Errorf("wrong sender attribution: %v", msg)
		}
		if msg["content"] != "hello" {
			t.Errorf("wrong content: %v", msg["content"])
		}
		ts, _ := msg["timestamp"].(float64)
		if ts <= 0 {
			t.Errorf("missing timestamp: %v", msg)
		}
		first = ts
	}
	expectNone(t, eve)

	// Timestamps never run backwards across messages.
	send(t, h, alice, Envelope{Type: TypeChatMessage, RoomID: roomID, Content: "again"})
	second, _ := recvType(t, alice, TypeChatMessage)["timestamp"].(float64)
	if second < first {
		t.Errorf("timestamp went backwards: %v then %v", first, second)
	}
}

func TestChatMessageOutsideMembershipIsSilent(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	eve, _ := loginUser(t, h, "Eve")
	roomID := makeRoom(t, h, alice, bobID)
	drain(alice)
	drain(bob)
	drain(eve)

	send(t, h, eve, Envelope{Type: TypeChatMessage, RoomID: roomID, Content: "let me in"})
	send(t, h, alice, Envelope{Type: TypeChatMessage, RoomID: "no-such-room", Content: "void"})

	expectNone(t, alice)
	expectNone(t, bob)
	expectNone(t, eve)
}

func TestTypingIndicatorExcludesSender(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	carol, carolID := loginUser(t, h, "Carol")
	roomID := makeRoom(t, h, alice, bobID, carolID)
	drain(bob)
	drain(carol)

	send(t, h, bob, Envelope{Type: TypeStartTyping, RoomID: roomID})
	for _, c := range []*Client{alice, carol} {
		msg := recvType(t, c, TypeUserTyping)
		if msg["userName"] != "Bob" || msg["isTyping"] != true {
			t.Errorf("bad typing envelope: %v", msg)
		}
	}
	expectNone(t, bob)

	send(t, h, bob, Envelope{Type: TypeStopTyping, RoomID: roomID})
	for _, c := range []*Client{alice, carol} {
		msg := recvType(t, c, TypeUserTyping)
		if msg["isTyping"] != false {
			t.Errorf("expected isTyping false, got %v", msg)
		}
	}
}

func TestChatMessageClearsTypingState(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	roomID := makeRoom(t, h, alice, bobID)
	drain(bob)

	send(t, h, bob, Envelope{Type: TypeStartTyping, RoomID: roomID})
	send(t, h, bob, Envelope{Type: TypeChatMessage, RoomID: roomID, Content: "done typing"})

	if got := h.typing.Typing(roomID); len(got) != 0 {
		t.Errorf("typing state not cleared by a sent message: %v", got)
	}
}

func TestTypingInUnknownRoomIsSilent(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, _ := loginUser(t, h, "Bob")
	drain(alice)
	drain(bob)

	send(t, h, alice, Envelope{Type: TypeStartTyping, RoomID: "no-such-room"})
	expectNone(t, alice)
	expectNone(t, bob)
}

func TestLeaveRoomNotifiesSurvivors(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	carol, carolID := loginUser(t, h, "Carol")
	roomID := makeRoom(t, h, alice, bobID, carolID)
	drain(bob)
	drain(carol)

	send(t, h, bob, Envelope{Type: TypeLeaveRoom, RoomID: roomID})

	for _, c := range []*Client{alice, carol} {
		msg := recvType(t, c, TypeSystemMessage)
		content, _ := msg["content"].(string)
		if !strings.Contains(content, "Bob") {
			t.Errorf("departure notice missing the leaver's name: %q", content)
		}
	}
	expectNone(t, bob)

	room, ok := h.rooms.Get(roomID)
	if !ok || room.Size() != 2 {
		t.Error("room should survive with two participants")
	}
}

func TestLeaveRoomDissolvesAndNotifiesSurvivor(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	roomID := makeRoom(t, h, alice, bobID)
	drain(bob)

	send(t, h, bob, Envelope{Type: TypeLeaveRoom, RoomID: roomID})

	msg := recvType(t, alice, TypeSystemMessage)
	if msg["content"] != noticeRoomClosed {
		t.Errorf("expected the closing notice, got %q", msg["content"])
	}
	if h.rooms.Count() != 0 {
		t.Error("dissolved room still stored")
	}

	// Traffic addressed to the dissolved room is a silent no-op.
	send(t, h, alice, Envelope{Type: TypeChatMessage, RoomID: roomID, Content: "anyone?"})
	send(t, h, bob, Envelope{Type: TypeLeaveRoom, RoomID: roomID})
	expectNone(t, alice)
	expectNone(t, bob)
}

func TestDisconnectPurgesRoomsAndDirectory(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	makeRoom(t, h, alice, bobID)
	drain(alice)

	h.Disconnect(bob)

	// Directory first, then the room fallout.
	dir := recvType(t, alice, TypeUpdateUsers)
	if users, _ := dir["users"].([]any); len(users) != 1 {
		t.Errorf("expected 1 directory entry after disconnect, got %v", dir["users"])
	}
	msg := recvType(t, alice, TypeSystemMessage)
	if msg["content"] != noticeRoomClosed {
		t.Errorf("expected the closing notice, got %q", msg["content"])
	}
	if h.rooms.Count() != 0 {
		t.Error("room survived losing its second-to-last participant")
	}
}

func TestDisconnectFromLargerRoomLeavesNotice(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	carol, carolID := loginUser(t, h, "Carol")
	roomID := makeRoom(t, h, alice, bobID, carolID)
	drain(alice)
	drain(bob)

	h.Disconnect(carol)

	for _, c := range []*Client{alice, bob} {
		recvType(t, c, TypeUpdateUsers)
		msg := recvType(t, c, TypeSystemMessage)
		content, _ := msg["content"].(string)
		if !strings.Contains(content, "Carol") {
			t.Errorf("departure notice missing the leaver's name: %q", content)
		}
	}

	if room, ok := h.rooms.Get(roomID); !ok || room.Size() != 2 {
		t.Error("room should survive with two participants")
	}
}

func TestUnauthenticatedDisconnectIsQuiet(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	drain(alice)

	c := newHubClient(t, h)
	h.Disconnect(c)
	h.Disconnect(c) // repeated disconnects must not panic

	expectNone(t, alice)
}

func TestInviteSendsDualNotifications(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	carol, carolID := loginUser(t, h, "Carol")
	roomID := makeRoom(t, h, alice, bobID)
	drain(bob)
	drain(carol)

	send(t, h, alice, Envelope{Type: TypeInviteUsers, RoomID: roomID, UsersToInvite: []string{carolID}})

	// New participant: full room-created, then the joiner notice.
	created := recvType(t, carol, TypeRoomCreated)
	room, _ := created["room"].(map[string]any)
	if room["id"] != roomID {
		t.Errorf("invitee saw the wrong room: %v", room["id"])
	}
	if participants, _ := room["participants"].([]any); len(participants) != 3 {
		t.Errorf("expected 3 participants, got %v", participants)
	}

	// Existing participants: an updated snapshot, then the joiner notice.
	for _, c := range []*Client{alice, bob} {
		updated := recvType(t, c, TypeRoomUpdated)
		room, _ := updated["room"].(map[string]any)
		name, _ := room["name"].(string)
		if !strings.Contains(name, "Carol") {
			t.Errorf("updated room name %q missing the new participant", name)
		}
	}

	for _, c := range []*Client{alice, bob, carol} {
		msg := recvType(t, c, TypeSystemMessage)
		content, _ := msg["content"].(string)
		if !strings.Contains(content, "Carol") {
			t.Errorf("joiner notice missing the invitee's name: %q", content)
		}
	}
}

func TestInviteWithNoAdditionsIsSilent(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	roomID := makeRoom(t, h, alice, bobID)
	drain(alice)
	drain(bob)

	send(t, h, alice, Envelope{Type: TypeInviteUsers, RoomID: roomID, UsersToInvite: []string{bobID}})
	send(t, h, alice, Envelope{Type: TypeInviteUsers, RoomID: roomID, UsersToInvite: []string{"no-such-id"}})
	expectNone(t, alice)
	expectNone(t, bob)
}

func TestInviteFromOutsiderIsDropped(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	eve, _ := loginUser(t, h, "Eve")
	_, daveID := loginUser(t, h, "Dave")
	roomID := makeRoom(t, h, alice, bobID)
	drain(alice)
	drain(bob)
	drain(eve)

	send(t, h, eve, Envelope{Type: TypeInviteUsers, RoomID: roomID, UsersToInvite: []string{daveID}})
	expectNone(t, alice)
	expectNone(t, bob)
	expectNone(t, eve)

	if room, _ := h.rooms.Get(roomID); room.Size() != 2 {
		t.Error("outsider invite changed membership")
	}
}

func TestMalformedAndUnknownEnvelopesAreIgnored(t *testing.T) {
	h := NewHub()
	alice, _ := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	roomID := makeRoom(t, h, alice, bobID)
	drain(bob)

	h.HandleInbound(alice, []byte(`{not json`))
	h.HandleInbound(alice, []byte(`{"type":"self-destruct"}`))
	expectNone(t, alice)
	expectNone(t, bob)

	// The connection stays usable afterwards.
	send(t, h, alice, Envelope{Type: TypeChatMessage, RoomID: roomID, Content: "still here"})
	recvType(t, bob, TypeChatMessage)
}

func TestBroadcastFileMessage(t *testing.T) {
	h := NewHub()
	alice, aliceID := loginUser(t, h, "Alice")
	bob, bobID := loginUser(t, h, "Bob")
	roomID := makeRoom(t, h, alice, bobID)
	drain(alice)
	drain(bob)

	file := FileDescriptor{Name: "notes.txt", URL: "/uploads/abc-notes.txt", Size: 42}
	if err := h.BroadcastFileMessage(roomID, aliceID, file); err != nil {
		t.Fatalf("BroadcastFileMessage failed: %v", err)
	}

	for _, c := range []*Client{alice, bob} {
		msg := recvType(t, c, TypeFileMessage)
		if msg["senderName"] != "Alice" {
			t.Errorf("wrong sender attribution: %v", msg)
		}
		got, _ := msg["file"].(map[string]any)
		if got["name"] != "notes.txt" || got["url"] != "/uploads/abc-notes.txt" || got["size"] != float64(42) {
			t.Errorf("file descriptor mangled in transit: %v", got)
		}
	}

	if err := h.BroadcastFileMessage(roomID, "no-such-id", file); !errors.Is(err, ErrUnknownSender) {
		t.Errorf("expected ErrUnknownSender, got %v", err)
	}

	// A vanished room is not an error, just a broadcast to nobody.
	if err := h.BroadcastFileMessage("no-such-room", aliceID, file); err != nil {
		t.Errorf("missing room should be silent, got %v", err)
	}
	expectNone(t, alice)
	expectNone(t, bob)
}
