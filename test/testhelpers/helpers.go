// Package testhelpers provides common utilities for testing the livechat
// server: starting an isolated hub and HTTP server, dialing WebSocket
// clients, and sending/receiving protocol events.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"livechat/internal/server"
)

// WireEvent is the union of all outbound event shapes, decoded loosely so a
// test can inspect whichever fields the event carries.
type WireEvent struct {
	Event     string               `json:"event"`
	Text      string               `json:"text"`
	Username  string               `json:"username"`
	Timestamp time.Time            `json:"timestamp"`
	Kind      string               `json:"kind"`
	Users     []server.RosterEntry `json:"users"`
}

// StartChatServer boots a fresh hub and an httptest server wired to the
// application routes. Both are torn down when the test finishes.
func StartChatServer(t *testing.T) *httptest.Server {
	t.Helper()

	server.SetConfig(nil)
	hub := server.ResetHub()
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return ts
}

// Dial opens a WebSocket connection to the test server's /ws endpoint with
// an allowed origin header. The connection is closed when the test finishes.
func Dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err, "websocket dial failed")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithOrigin is Dial with a caller-supplied Origin header, for origin
// allow-list tests. It returns the dial error instead of failing the test.
func DialWithOrigin(ts *httptest.Server, origin string) (*websocket.Conn, error) {
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Register sends a register event binding the username to the connection.
func Register(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	err := conn.WriteJSON(map[string]string{"event": "register", "username": username})
	require.NoError(t, err, "sending register event")
}

// SendChat sends a chat message event over the connection.
func SendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	err := conn.WriteJSON(map[string]string{"event": "message", "text": text})
	require.NoError(t, err, "sending message event")
}

// ReadEvent reads the next outbound event, failing the test if none arrives
// within the timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) WireEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var event WireEvent
	require.NoError(t, conn.ReadJSON(&event), "reading event")
	return event
}

// ExpectRoster reads the next event and asserts it is a roster update with
// exactly the given usernames, in order.
func ExpectRoster(t *testing.T, conn *websocket.Conn, usernames ...string) WireEvent {
	t.Helper()

	event := ReadEvent(t, conn, 2*time.Second)
	require.Equal(t, "roster", event.Event)

	got := make([]string, 0, len(event.Users))
	for _, user := range event.Users {
		got = append(got, user.Username)
	}
	require.Equal(t, usernames, got, "roster mismatch")
	return event
}

// ExpectMessage reads the next event and asserts it is a chat broadcast with
// the given text, username, and kind.
func ExpectMessage(t *testing.T, conn *websocket.Conn, text, username, kind string) WireEvent {
	t.Helper()

	event := ReadEvent(t, conn, 2*time.Second)
	require.Equal(t, "message", event.Event)
	require.Equal(t, text, event.Text)
	require.Equal(t, username, event.Username)
	require.Equal(t, kind, event.Kind)
	require.False(t, event.Timestamp.IsZero(), "broadcast missing server timestamp")
	return event
}

// ExpectSilence asserts that no event arrives on the connection within the
// given window. The deadline error poisons the connection for further reads,
// so this must be the last read performed on conn in a test.
func ExpectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	var event WireEvent
	err := conn.ReadJSON(&event)
	require.Error(t, err, "expected no event, got %+v", event)
}
