package unit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/server"
	"livechat/test/testhelpers"
)

// newTestHub starts an isolated hub loop that is shut down with the test.
func newTestHub(t *testing.T) *server.Hub {
	t.Helper()

	server.SetConfig(nil)
	hub := server.NewHub()
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

// attachClient creates a transportless client and attaches it to the hub.
// Tests read the client's send channel directly, playing the write pump.
func attachClient(t *testing.T, hub *server.Hub, id string) *server.Client {
	t.Helper()

	client := server.NewClient(nil, hub, id, "test")
	hub.GetAttachChan() <- client
	return client
}

func register(hub *server.Hub, client *server.Client, username string) {
	hub.GetInboundChan() <- server.Envelope{
		Client: client,
		Event:  server.InboundEvent{Event: server.EventRegister, Username: username},
	}
}

func sendChat(hub *server.Hub, client *server.Client, text string) {
	hub.GetInboundChan() <- server.Envelope{
		Client: client,
		Event:  server.InboundEvent{Event: server.EventMessage, Text: text},
	}
}

// nextEvent pops the next queued broadcast off the client's send channel.
func nextEvent(t *testing.T, client *server.Client) testhelpers.WireEvent {
	t.Helper()

	select {
	case payload, ok := <-client.GetSendChan():
		require.True(t, ok, "send channel closed while awaiting event")
		var event testhelpers.WireEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return testhelpers.WireEvent{}
	}
}

// expectNoEvent asserts the client's queue stays empty for a short window.
func expectNoEvent(t *testing.T, client *server.Client) {
	t.Helper()

	select {
	case payload, ok := <-client.GetSendChan():
		if ok {
			t.Fatalf("expected no event, got %s", payload)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func rosterUsernames(event testhelpers.WireEvent) []string {
	names := make([]string, 0, len(event.Users))
	for _, user := range event.Users {
		names = append(names, user.Username)
	}
	return names
}

func TestRegisterBroadcastsRosterThenJoinNotice(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")

	register(hub, c1, "alice")

	roster := nextEvent(t, c1)
	assert.Equal(t, "roster", roster.Event)
	assert.Equal(t, []string{"alice"}, rosterUsernames(roster))
	assert.Equal(t, "s1", roster.Users[0].SessionID)

	notice := nextEvent(t, c1)
	assert.Equal(t, "message", notice.Event)
	assert.Equal(t, "alice joined the chat", notice.Text)
	assert.Equal(t, "System", notice.Username)
	assert.Equal(t, "system", notice.Kind)
}

func TestRegisterEmptyUsernameIsSilentNoOp(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")

	register(hub, c1, "")
	register(hub, c1, "   ")

	expectNoEvent(t, c1)

	_, registered := hub.Stats()
	assert.Zero(t, registered)
}

func TestReRegisterOverwritesWithoutRebroadcast(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")

	register(hub, c1, "alice")
	nextEvent(t, c1) // roster
	nextEvent(t, c1) // join notice

	register(hub, c1, "alicia")
	expectNoEvent(t, c1)

	// The overwrite is visible in the next membership change.
	c2 := attachClient(t, hub, "s2")
	register(hub, c2, "bob")
	roster := nextEvent(t, c1)
	assert.Equal(t, []string{"alicia", "bob"}, rosterUsernames(roster))
}

func TestMessageEchoedToAllIncludingSender(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	register(hub, c1, "alice")
	nextEvent(t, c1)
	nextEvent(t, c1)

	sendChat(hub, c1, "hello")

	msg := nextEvent(t, c1)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "user", msg.Kind)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestMessageFromUnregisteredSessionDropped(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")

	sendChat(hub, c1, "hello")

	expectNoEvent(t, c1)
}

func TestEmptyTextDroppedSilently(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	register(hub, c1, "alice")
	nextEvent(t, c1)
	nextEvent(t, c1)

	sendChat(hub, c1, "")
	sendChat(hub, c1, "   \t\n")
	sendChat(hub, c1, "real")

	msg := nextEvent(t, c1)
	assert.Equal(t, "real", msg.Text, "only the non-empty message should be broadcast")
}

func TestUnregisteredConnectionsReceiveBroadcasts(t *testing.T) {
	hub := newTestHub(t)
	lurker := attachClient(t, hub, "s1")
	c2 := attachClient(t, hub, "s2")

	register(hub, c2, "bob")

	roster := nextEvent(t, lurker)
	assert.Equal(t, "roster", roster.Event)
	assert.Equal(t, []string{"bob"}, rosterUsernames(roster))

	notice := nextEvent(t, lurker)
	assert.Equal(t, "bob joined the chat", notice.Text)
}

func TestDisconnectBroadcastsLeaveNotice(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	c2 := attachClient(t, hub, "s2")
	register(hub, c1, "alice")
	nextEvent(t, c2)
	nextEvent(t, c2)

	hub.GetDetachChan() <- c1

	roster := nextEvent(t, c2)
	assert.Empty(t, rosterUsernames(roster))

	notice := nextEvent(t, c2)
	assert.Equal(t, "alice left the chat", notice.Text)
	assert.Equal(t, "System", notice.Username)
	assert.Equal(t, "system", notice.Kind)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	c2 := attachClient(t, hub, "s2")
	register(hub, c1, "alice")
	nextEvent(t, c2)
	nextEvent(t, c2)

	hub.GetDetachChan() <- c1
	hub.GetDetachChan() <- c1

	nextEvent(t, c2) // roster
	notice := nextEvent(t, c2)
	assert.Equal(t, "alice left the chat", notice.Text)

	// The second detach must not produce another notice or roster change.
	expectNoEvent(t, c2)

	open, registered := hub.Stats()
	assert.Equal(t, 1, open)
	assert.Zero(t, registered)
}

func TestUnregisteredDisconnectIsSilent(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	c2 := attachClient(t, hub, "s2")

	hub.GetDetachChan() <- c1

	expectNoEvent(t, c2)

	open, registered := hub.Stats()
	assert.Equal(t, 1, open)
	assert.Zero(t, registered)
}

func TestRosterConsistencyAcrossChurn(t *testing.T) {
	hub := newTestHub(t)
	observer := attachClient(t, hub, "obs")

	c1 := attachClient(t, hub, "s1")
	c2 := attachClient(t, hub, "s2")
	c3 := attachClient(t, hub, "s3")

	register(hub, c1, "alice")
	register(hub, c2, "bob")
	register(hub, c3, "carol")
	hub.GetDetachChan() <- c2

	var rosters [][]string
	for i := 0; i < 4; i++ {
		roster := nextEvent(t, observer)
		require.Equal(t, "roster", roster.Event)
		rosters = append(rosters, rosterUsernames(roster))
		notice := nextEvent(t, observer)
		require.Equal(t, "system", notice.Kind)
	}

	assert.Equal(t, [][]string{
		{"alice"},
		{"alice", "bob"},
		{"alice", "bob", "carol"},
		{"alice", "carol"},
	}, rosters)
}

func TestTimestampsNonDecreasing(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	register(hub, c1, "alice")
	nextEvent(t, c1)

	stamps := []time.Time{nextEvent(t, c1).Timestamp} // join notice
	for i := 0; i < 5; i++ {
		sendChat(hub, c1, "tick")
		stamps = append(stamps, nextEvent(t, c1).Timestamp)
	}

	for i := 1; i < len(stamps); i++ {
		assert.False(t, stamps[i].Before(stamps[i-1]),
			"timestamp %d went backwards: %v < %v", i, stamps[i], stamps[i-1])
	}
}

func TestIdenticalEventOrderForAllRecipients(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	c2 := attachClient(t, hub, "s2")
	register(hub, c1, "alice")
	register(hub, c2, "bob")

	for i := 0; i < 3; i++ {
		sendChat(hub, c1, "from alice")
		sendChat(hub, c2, "from bob")
	}

	// 4 registration events + 6 chat messages.
	var seq1, seq2 []string
	for i := 0; i < 10; i++ {
		e1 := nextEvent(t, c1)
		e2 := nextEvent(t, c2)
		seq1 = append(seq1, e1.Event+"|"+e1.Username+"|"+e1.Text)
		seq2 = append(seq2, e2.Event+"|"+e2.Username+"|"+e2.Text)
	}

	assert.Equal(t, seq1, seq2, "recipients observed different event orders")
}

func TestSlowClientDroppedWhenBufferFull(t *testing.T) {
	hub := newTestHub(t)
	observer := attachClient(t, hub, "obs")

	// Give the slow client a one-slot queue so the second broadcast of its
	// own registration cannot be delivered.
	cfg, err := server.NewConfigFromEnv()
	require.NoError(t, err)
	cfg.SendBuffer = 1
	server.SetConfig(cfg)
	slow := attachClient(t, hub, "s1")
	server.SetConfig(nil)

	register(hub, slow, "carol")

	// The roster update fills the queue; the join notice does not fit, so
	// the hub drops the client mid-fan-out and announces the departure.
	roster := nextEvent(t, observer)
	assert.Equal(t, []string{"carol"}, rosterUsernames(roster))
	join := nextEvent(t, observer)
	assert.Equal(t, "carol joined the chat", join.Text)
	emptied := nextEvent(t, observer)
	assert.Equal(t, "roster", emptied.Event)
	assert.Empty(t, rosterUsernames(emptied))
	leave := nextEvent(t, observer)
	assert.Equal(t, "carol left the chat", leave.Text)
	assert.Equal(t, "system", leave.Kind)

	// The undrained client keeps its buffered roster update, then its send
	// channel closes.
	buffered := nextEvent(t, slow)
	assert.Equal(t, "roster", buffered.Event)
	select {
	case _, ok := <-slow.GetSendChan():
		assert.False(t, ok, "send channel should be closed after the drop")
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}

	open, registered := hub.Stats()
	assert.Equal(t, 1, open)
	assert.Zero(t, registered)
}

func TestStatsCountsOpenAndRegistered(t *testing.T) {
	hub := newTestHub(t)
	c1 := attachClient(t, hub, "s1")
	attachClient(t, hub, "s2")
	register(hub, c1, "alice")
	nextEvent(t, c1)
	nextEvent(t, c1)

	open, registered := hub.Stats()
	assert.Equal(t, 2, open)
	assert.Equal(t, 1, registered)
}
