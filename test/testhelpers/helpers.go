// Package testhelpers provides shared scaffolding for integration tests that
// exercise the relay over real HTTP and WebSocket connections.
package testhelpers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/damso-chat/damso/internal/server"
)

const readTimeout = 3 * time.Second

// gorilla/websocket treats any read error — including a deadline timeout — as
// permanent, so a helper can never time out a direct read and keep using the
// connection. Reads that may outlive a helper run in a goroutine, with the
// in-flight result parked here for the next reader to consume.
type readResult struct {
	data []byte
	err  error
}

var (
	pendingMu    sync.Mutex
	pendingReads = map[*websocket.Conn]chan readResult{}
)

func pendingRead(conn *websocket.Conn) (chan readResult, bool) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	ch, ok := pendingReads[conn]
	return ch, ok
}

func startPendingRead(conn *websocket.Conn) chan readResult {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	if ch, ok := pendingReads[conn]; ok {
		return ch
	}
	ch := make(chan readResult, 1)
	pendingReads[conn] = ch
	go func() {
		_, data, err := conn.ReadMessage()
		ch <- readResult{data: data, err: err}
	}()
	return ch
}

func clearPendingRead(conn *websocket.Conn) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	delete(pendingReads, conn)
}

// StartRelay boots a full relay on an ephemeral port with a throwaway upload
// directory and tears it down with the test.
func StartRelay(t *testing.T) (*server.Hub, *httptest.Server) {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.Upload.Dir = t.TempDir()

	hub := server.NewHub()
	ts := httptest.NewServer(server.SetupRoutes(hub, cfg))
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return hub, ts
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// Dial opens a WebSocket connection to the relay and closes it with the test.
func Dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("websocket dial %s failed: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEnvelope writes one JSON envelope to the connection.
func SendEnvelope(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("failed to send envelope: %v", err)
	}
}

// ReadUntil reads envelopes until one of the wanted type arrives, discarding
// everything else. It fails the test if nothing matching shows up in time.
func ReadUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		var msg map[string]any
		if ch, ok := pendingRead(conn); ok {
			select {
			case res := <-ch:
				clearPendingRead(conn)
				if res.err != nil {
					t.Fatalf("waiting for %q envelope: %v", msgType, res.err)
				}
				if err := json.Unmarshal(res.data, &msg); err != nil {
					t.Fatalf("waiting for %q envelope: %v", msgType, err)
				}
			case <-time.After(time.Until(deadline)):
				t.Fatalf("no %q envelope arrived within %v", msgType, readTimeout)
			}
		} else {
			_ = conn.SetReadDeadline(deadline)
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("waiting for %q envelope: %v", msgType, err)
			}
		}
		if msg["type"] == msgType {
			_ = conn.SetReadDeadline(time.Time{})
			return msg
		}
	}
	t.Fatalf("no %q envelope arrived within %v", msgType, readTimeout)
	return nil
}

// ReadDirectory reads update-users broadcasts until one carries the expected
// number of entries. Directory snapshots may arrive several times while other
// clients log in, so intermediate sizes are skipped.
func ReadDirectory(t *testing.T, conn *websocket.Conn, want int) []any {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		msg := ReadUntil(t, conn, "update-users")
		users, _ := msg["users"].([]any)
		if len(users) == want {
			return users
		}
	}
	t.Fatalf("directory never reached %d entries", want)
	return nil
}

// Login performs the login handshake and returns the assigned session id.
func Login(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()

	SendEnvelope(t, conn, map[string]any{"type": "login", "name": name})
	msg := ReadUntil(t, conn, "login-success")
	id, _ := msg["id"].(string)
	if id == "" {
		t.Fatal("login-success carried no session id")
	}
	return id
}

// ExpectNoEnvelope asserts that the connection stays quiet for the duration.
func ExpectNoEnvelope(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	ch := startPendingRead(conn)
	select {
	case res := <-ch:
		clearPendingRead(conn)
		if res.err == nil {
			t.Fatalf("expected silence, got envelope: %s", res.data)
		}
		t.Fatalf("expected a read timeout, got: %v", res.err)
	case <-time.After(wait):
		// Quiet for the whole window; the read stays in flight for the next
		// helper to consume.
	}
}
