package server

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUnknownClient reports a connection that has no registered session.
	ErrUnknownClient = errors.New("connection has no session")
	// ErrAlreadyAuthenticated reports a second login on the same session.
	ErrAlreadyAuthenticated = errors.New("display name already set")
)

// Session is the server-side identity bound 1:1 to a connection. The id is
// assigned at registration; the display name is set at most once, on the
// first accepted login, and is immutable afterwards.
type Session struct {
	id   string
	name string
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }

// Authenticated reports whether the session has completed login.
func (s *Session) Authenticated() bool { return s.name != "" }

// SessionRegistry owns the mapping between live connections and sessions.
// It performs no locking of its own: every access happens under the Hub's
// mutex, which serializes all state-affecting events.
type SessionRegistry struct {
	byClient map[*Client]*Session
	byID     map[string]*Client
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byClient: make(map[*Client]*Session),
		byID:     make(map[string]*Client),
	}
}

// Register creates a session with a fresh id and no display name.
func (r *SessionRegistry) Register(c *Client) *Session {
	sess := &Session{id: uuid.NewString()}
	r.byClient[c] = sess
	r.byID[sess.id] = c
	return sess
}

// Authenticate sets the display name exactly once. A second attempt is an
// invalid-state error, not a fatal one.
func (r *SessionRegistry) Authenticate(c *Client, name string) (*Session, error) {
	sess, ok := r.byClient[c]
	if !ok {
		return nil, ErrUnknownClient
	}
	if sess.Authenticated() {
		return nil, ErrAlreadyAuthenticated
	}
	sess.name = name
	return sess, nil
}

// Lookup returns the session for a connection.
func (r *SessionRegistry) Lookup(c *Client) (*Session, bool) {
	sess, ok := r.byClient[c]
	return sess, ok
}

// Resolve is the weak lookup used at send time: an id with no live
// connection is simply not reachable, never an error.
func (r *SessionRegistry) Resolve(id string) (*Client, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// SessionByID returns the live session for an id, if any.
func (r *SessionRegistry) SessionByID(id string) (*Session, bool) {
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	sess, ok := r.byClient[c]
	return sess, ok
}

// DisplayName resolves an id to its display name; false for dead ids and
// sessions that never logged in.
func (r *SessionRegistry) DisplayName(id string) (string, bool) {
	sess, ok := r.SessionByID(id)
	if !ok || !sess.Authenticated() {
		return "", false
	}
	return sess.name, true
}

// Unregister removes and returns the session for a closing connection.
func (r *SessionRegistry) Unregister(c *Client) (*Session, bool) {
	sess, ok := r.byClient[c]
	if !ok {
		return nil, false
	}
	delete(r.byClient, c)
	delete(r.byID, sess.id)
	return sess, true
}

// ListAuthenticated snapshots the directory of logged-in sessions. Order is
// unspecified.
func (r *SessionRegistry) ListAuthenticated() []User {
	users := make([]User, 0, len(r.byClient))
	for _, sess := range r.byClient {
		if sess.Authenticated() {
			users = append(users, User{ID: sess.id, Name: sess.name})
		}
	}
	return users
}

// Len returns the number of registered sessions, authenticated or not.
func (r *SessionRegistry) Len() int {
	return len(r.byClient)
}
