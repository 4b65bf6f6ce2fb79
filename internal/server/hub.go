package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/damso-chat/damso/internal/logging"
)

// ErrUnknownSender reports a file-message injection whose sender id has no
// live, logged-in session.
var ErrUnknownSender = errors.New("sender has no live session")

// System notice copy, kept verbatim from the production client's language.
const (
	noticeJoined     = "%s 님이 채팅에 참여했습니다."
	noticeLeft       = "%s 님이 채팅을 나갔습니다."
	noticeRoomClosed = "다른 참여자가 모두 나가 채팅방이 종료되었습니다."
)

// Hub owns all mutable relay state: the session and room registries, the
// typing presence sets, and the set of live connections. One mutex guards
// everything for the full duration of an envelope's handling, including the
// broadcasts it triggers, so every state-affecting event lands in a single
// global order.
//
// Delivery is fire-and-forget: a non-blocking send into the client's
// buffered channel, drained by that client's write pump. A slow connection
// loses envelopes; it is only ever removed by its own close event.
type Hub struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	sessions *SessionRegistry
	rooms    *RoomRegistry
	typing   *TypingPresence
	wg       sync.WaitGroup
}

func NewHub() *Hub {
	sessions := NewSessionRegistry()
	return &Hub{
		clients:  make(map[*Client]struct{}),
		sessions: sessions,
		rooms:    NewRoomRegistry(sessions),
		typing:   NewTypingPresence(),
	}
}

// Register creates an unauthenticated session for a new connection and
// starts its pump goroutines.
func (h *Hub) Register(c *Client) *Session {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	sess := h.sessions.Register(c)
	c.session = sess
	total := len(h.clients)
	h.mu.Unlock()

	logging.L().Info().
		Str("session_id", sess.ID()).
		Str("addr", c.addr).
		Int("clients", total).
		Msg("client connected, awaiting login")

	if c.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}
	return sess
}

// Disconnect tears down a closing connection: the session is unregistered,
// and if it had completed login the directory is re-broadcast and the
// session is purged from every room it belonged to, fanning out the
// resulting notices.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	sess, ok := h.sessions.Unregister(c)
	close(c.send)
	if !ok {
		return
	}

	logging.L().Info().
		Str("session_id", sess.ID()).
		Str("name", sess.Name()).
		Int("clients", len(h.clients)).
		Msg("client disconnected")

	if !sess.Authenticated() {
		return
	}

	h.broadcastDirectory()
	for _, res := range h.rooms.PurgeSession(sess.ID()) {
		h.notifyDeparture(res, sess.Name())
	}
}

// notifyDeparture fans out the system notices owed after a leave or purge.
// Dissolve notices target the remaining id set directly, so the registry
// delete that already happened cannot make them undeliverable.
func (h *Hub) notifyDeparture(res LeaveResult, leaverName string) {
	if res.Dissolved {
		h.typing.ClearRoom(res.RoomID)
		h.sendToIDs(res.Remaining, "", SystemMessage{
			Type:    TypeSystemMessage,
			RoomID:  res.RoomID,
			Content: noticeRoomClosed,
		})
		return
	}

	h.typing.Stop(res.RoomID, leaverName)
	h.sendToIDs(res.Remaining, "", systemNoticef(res.RoomID, noticeLeft, leaverName))
}

// sendToIDs delivers one envelope to the live connections behind a set of
// session ids, optionally excluding one. Ids with no live session are
// skipped silently; there is no retry and no queue.
func (h *Hub) sendToIDs(ids []string, exclude string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.L().Error().Err(err).Msg("failed to marshal outbound envelope")
		return
	}
	for _, id := range ids {
		if id == exclude {
			continue
		}
		c, ok := h.sessions.Resolve(id)
		if !ok {
			continue
		}
		h.deliver(c, data)
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		logging.L().Warn().Str("addr", c.addr).Msg("send buffer full, dropping envelope")
	}
}

// broadcastRoom fans an envelope out to a room's current participants.
// An absent room is a no-op.
func (h *Hub) broadcastRoom(roomID, exclude string, v any) {
	room, ok := h.rooms.Get(roomID)
	if !ok {
		return
	}
	h.sendToIDs(room.ParticipantIDs(), exclude, v)
}

// broadcastDirectory sends the authenticated-session snapshot to every
// authenticated connection. Called after any login and after any disconnect
// of a previously-authenticated session.
func (h *Hub) broadcastDirectory() {
	users := h.sessions.ListAuthenticated()
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	h.sendToIDs(ids, "", UpdateUsers{Type: TypeUpdateUsers, Users: users})
}

// BroadcastFileMessage is the single injection point exposed to the upload
// collaborator: compose a file-message from a finished FileDescriptor and
// fan it out to the room. The sender must resolve to a live, logged-in
// session; a vanished room makes the broadcast a silent no-op.
func (h *Hub) BroadcastFileMessage(roomID, senderID string, file FileDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions.SessionByID(senderID)
	if !ok || !sess.Authenticated() {
		return ErrUnknownSender
	}

	h.broadcastRoom(roomID, "", FileMessage{
		Type:       TypeFileMessage,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: sess.Name(),
		Timestamp:  time.Now().UnixMilli(),
		File:       file,
	})
	return nil
}

// Shutdown closes every live connection and waits for the pump goroutines
// to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	logging.L().Info().Int("clients", len(clients)).Msg("closing client connections")
	for _, c := range clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		logging.L().Warn().Msg("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
