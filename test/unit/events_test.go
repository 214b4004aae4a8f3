package unit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/server"
)

func TestInboundEventIgnoresClientTimestamp(t *testing.T) {
	raw := []byte(`{"event":"message","text":"hi","timestamp":"2001-01-01T00:00:00Z","color":"red"}`)

	var event server.InboundEvent
	require.NoError(t, json.Unmarshal(raw, &event))

	assert.Equal(t, server.EventMessage, event.Event)
	assert.Equal(t, "hi", event.Text)
}

func TestChatBroadcastWireFormat(t *testing.T) {
	stamp := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	payload, err := json.Marshal(server.ChatBroadcast{
		Event:     server.EventMessage,
		Text:      "hello",
		Username:  "alice",
		Timestamp: stamp,
		Kind:      server.KindUser,
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))

	assert.Equal(t, "message", fields["event"])
	assert.Equal(t, "hello", fields["text"])
	assert.Equal(t, "alice", fields["username"])
	assert.Equal(t, "user", fields["kind"])
	assert.Equal(t, "2026-08-30T12:00:00Z", fields["timestamp"])
}

func TestRosterUpdateWireFormat(t *testing.T) {
	payload, err := json.Marshal(server.RosterUpdate{
		Event: server.EventRoster,
		Users: []server.RosterEntry{{SessionID: "s1", Username: "alice"}},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"event":"roster","users":[{"sessionId":"s1","username":"alice"}]}`, string(payload))
}
