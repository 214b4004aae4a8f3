package integration

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livechat/internal/server"
	"livechat/test/testhelpers"
)

// A frame over the configured read limit tears the connection down instead
// of producing a broadcast; the remaining users only see the departure.
func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg, err := server.NewConfigFromEnv()
	require.NoError(t, err)
	cfg.MaxMessageSize = 64
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	hub := server.ResetHub()
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	bob := testhelpers.Dial(t, ts)
	testhelpers.Register(t, bob, "bob")
	testhelpers.ExpectRoster(t, bob, "bob")
	testhelpers.ExpectMessage(t, bob, "bob joined the chat", "System", "system")

	alice := testhelpers.Dial(t, ts)
	testhelpers.Register(t, alice, "alice")
	testhelpers.ExpectRoster(t, alice, "alice", "bob")
	testhelpers.ExpectMessage(t, alice, "alice joined the chat", "System", "system")
	testhelpers.ExpectRoster(t, bob, "alice", "bob")
	testhelpers.ExpectMessage(t, bob, "alice joined the chat", "System", "system")

	testhelpers.SendChat(t, alice, strings.Repeat("x", 200))

	// The server closes alice's connection on the read-limit violation.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var readErr error
	for i := 0; i < 10; i++ {
		if _, _, readErr = alice.ReadMessage(); readErr != nil {
			break
		}
	}
	require.Error(t, readErr, "connection should be closed after an oversized frame")

	// No chat broadcast: the next events are the roster change and leave
	// notice from alice's forced disconnect.
	testhelpers.ExpectRoster(t, bob, "bob")
	testhelpers.ExpectMessage(t, bob, "alice left the chat", "System", "system")
}
