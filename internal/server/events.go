// Package server defines the JSON event types exchanged between clients and
// the hub, shared across client and hub logic.
package server

import (
	"strings"
	"time"
)

// Event discriminator values carried in the "event" field of every frame.
const (
	EventRegister = "register"
	EventMessage  = "message"
	EventRoster   = "roster"
)

// Message kinds on outbound chat broadcasts.
const (
	KindUser   = "user"
	KindSystem = "system"
)

// SystemSender is the username attached to hub-generated join/leave notices.
const SystemSender = "System"

// InboundEvent is the envelope clients send over the socket. Clients may
// include extra fields (their own timestamps in particular); they are
// discarded during decoding — the hub is the only timestamp authority.
type InboundEvent struct {
	Event    string `json:"event"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ChatBroadcast is a chat-shaped outbound event: user messages and system
// join/leave notices share this format.
type ChatBroadcast struct {
	Event     string    `json:"event"`
	Text      string    `json:"text"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
}

// RosterEntry is one registered session in a roster update.
type RosterEntry struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
}

// RosterUpdate is broadcast after every membership change.
type RosterUpdate struct {
	Event string        `json:"event"`
	Users []RosterEntry `json:"users"`
}

// Envelope pairs an inbound event with the client that produced it, for
// delivery into the hub's serialized processing loop.
type Envelope struct {
	Client *Client
	Event  InboundEvent
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
