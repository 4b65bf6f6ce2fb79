package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/damso-chat/damso/internal/logging"
)

// HandleInbound is the protocol router: it parses one inbound envelope and
// dispatches it under the hub lock. A connection is Unauthenticated until
// its first accepted login and Authenticated for the rest of its lifetime;
// while Unauthenticated every non-login envelope is dropped with no reply.
//
// Malformed envelopes and unknown types are logged and dropped; they never
// close the connection. State errors (absent room, non-participant sender)
// are silent no-ops.
func (h *Hub) HandleInbound(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logging.L().Warn().Str("addr", c.addr).Err(err).Msg("dropping malformed envelope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions.Lookup(c)
	if !ok {
		return
	}

	if env.Type == TypeLogin {
		h.handleLogin(c, sess, env)
		return
	}

	if !sess.Authenticated() {
		logging.L().Debug().
			Str("session_id", sess.ID()).
			Str("type", env.Type).
			Msg("blocked envelope from unauthenticated session")
		return
	}

	switch env.Type {
	case TypeCreateRoom:
		h.handleCreateRoom(sess, env)
	case TypeChatMessage:
		h.handleChatMessage(sess, env)
	case TypeStartTyping:
		h.handleTyping(sess, env, true)
	case TypeStopTyping:
		h.handleTyping(sess, env, false)
	case TypeInviteUsers:
		h.handleInvite(sess, env)
	case TypeLeaveRoom:
		h.handleLeaveRoom(sess, env)
	default:
		logging.L().Warn().Str("type", env.Type).Msg("dropping envelope of unknown type")
	}
}

func (h *Hub) handleLogin(c *Client, sess *Session, env Envelope) {
	name := strings.TrimSpace(env.Name)
	if name == "" {
		logging.L().Debug().Str("session_id", sess.ID()).Msg("login without display name dropped")
		return
	}
	if _, err := h.sessions.Authenticate(c, name); err != nil {
		logging.L().Debug().Str("session_id", sess.ID()).Err(err).Msg("login rejected")
		return
	}

	logging.L().Info().Str("session_id", sess.ID()).Str("name", name).Msg("client logged in")

	h.sendToIDs([]string{sess.ID()}, "", LoginSuccess{Type: TypeLoginSuccess, ID: sess.ID()})
	h.broadcastDirectory()
}

func (h *Hub) handleCreateRoom(sess *Session, env Envelope) {
	room, err := h.rooms.Create(sess.ID(), env.Participants)
	if err != nil {
		logging.L().Debug().Str("session_id", sess.ID()).Err(err).Msg("create-chat-room rejected")
		return
	}

	logging.L().Info().
		Str("room_id", room.ID).
		Str("room_name", room.Name).
		Int("participants", room.Size()).
		Msg("room created")

	h.sendToIDs(room.ParticipantIDs(), "", RoomCreated{Type: TypeRoomCreated, Room: room.View()})
}

func (h *Hub) handleChatMessage(sess *Session, env Envelope) {
	room, ok := h.rooms.Get(env.RoomID)
	if !ok || !room.Has(sess.ID()) {
		logging.L().Debug().
			Str("session_id", sess.ID()).
			Str("room_id", env.RoomID).
			Msg("chat-message outside membership dropped")
		return
	}

	// A message from the sender implicitly ends their typing state.
	h.typing.Stop(env.RoomID, sess.Name())

	h.sendToIDs(room.ParticipantIDs(), "", ChatMessage{
		Type:       TypeChatMessage,
		RoomID:     env.RoomID,
		SenderID:   sess.ID(),
		SenderName: sess.Name(),
		Content:    env.Content,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (h *Hub) handleTyping(sess *Session, env Envelope, typing bool) {
	room, ok := h.rooms.Get(env.RoomID)
	if !ok {
		return
	}

	if typing {
		h.typing.Start(env.RoomID, sess.Name())
	} else {
		h.typing.Stop(env.RoomID, sess.Name())
	}

	h.sendToIDs(room.ParticipantIDs(), sess.ID(), UserTyping{
		Type:     TypeUserTyping,
		RoomID:   env.RoomID,
		UserName: sess.Name(),
		IsTyping: typing,
	})
}

func (h *Hub) handleInvite(sess *Session, env Envelope) {
	room, added, err := h.rooms.Invite(env.RoomID, sess.ID(), env.UsersToInvite)
	if err != nil {
		logging.L().Debug().Str("session_id", sess.ID()).Str("room_id", env.RoomID).Err(err).Msg("invite-users rejected")
		return
	}
	if len(added) == 0 {
		return
	}

	addedSet := make(map[string]struct{}, len(added))
	names := make([]string, 0, len(added))
	for _, id := range added {
		addedSet[id] = struct{}{}
		if name, ok := h.sessions.DisplayName(id); ok {
			names = append(names, name)
		}
	}

	logging.L().Info().
		Str("room_id", room.ID).
		Strs("added", added).
		Int("participants", room.Size()).
		Msg("users invited to room")

	// Pre-existing participants get an updated snapshot of a room they
	// already track; new participants get a full room-created so they can
	// initialize a view of it. Snapshots go out before the joiner notice.
	view := room.View()
	for _, id := range room.ParticipantIDs() {
		if _, isNew := addedSet[id]; isNew {
			h.sendToIDs([]string{id}, "", RoomCreated{Type: TypeRoomCreated, Room: view})
		} else {
			h.sendToIDs([]string{id}, "", RoomUpdated{Type: TypeRoomUpdated, Room: view})
		}
	}

	h.sendToIDs(room.ParticipantIDs(), "", systemNoticef(room.ID, noticeJoined, strings.Join(names, ", ")))
}

func (h *Hub) handleLeaveRoom(sess *Session, env Envelope) {
	res, err := h.rooms.Leave(env.RoomID, sess.ID())
	if err != nil {
		logging.L().Debug().Str("session_id", sess.ID()).Str("room_id", env.RoomID).Err(err).Msg("leave-room was a no-op")
		return
	}

	logging.L().Info().
		Str("room_id", env.RoomID).
		Str("session_id", sess.ID()).
		Bool("dissolved", res.Dissolved).
		Msg("participant left room")

	h.notifyDeparture(res, sess.Name())
}

func systemNoticef(roomID, format string, args ...any) SystemMessage {
	return SystemMessage{
		Type:    TypeSystemMessage,
		RoomID:  roomID,
		Content: fmt.Sprintf(format, args...),
	}
}
