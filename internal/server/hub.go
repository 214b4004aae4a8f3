// Package server coordinates session attachment, registration, message
// broadcast, and connection cleanup for the livechat system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Hub is the single serialization point for roster mutation and fan-out.
// Every attach, detach, and inbound client event flows through one run loop,
// so a roster change and the broadcasts it produces are atomic as a unit and
// every connection observes the same event order.
type Hub struct {
	clients    map[*Client]bool
	roster     *Roster
	registered int
	inbound    chan Envelope
	attach     chan *Client
	detach     chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	lastStamp  time.Time
}

// NewHub creates a Hub ready to manage connections once Run is started.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*Client]bool),
		roster:  NewRoster(),
		inbound: make(chan Envelope),
		attach:  make(chan *Client),
		detach:  make(chan *Client),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

var hub = NewHub()

// GetAttachChan returns the channel used to hand new connections to the hub.
func (h *Hub) GetAttachChan() chan<- *Client {
	return h.attach
}

// GetDetachChan returns the channel used to report closed connections.
func (h *Hub) GetDetachChan() chan<- *Client {
	return h.detach
}

// GetInboundChan returns the channel carrying decoded client events into the
// hub's processing loop.
func (h *Hub) GetInboundChan() chan<- Envelope {
	return h.inbound
}

// Stats reports the number of open connections and registered sessions.
func (h *Hub) Stats() (open, registered int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients), h.registered
}

// Run drives the hub's event loop. It must be called in its own goroutine
// and runs until Shutdown is invoked.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.attach:
			h.handleAttach(client)

		case client := <-h.detach:
			h.dropClient(client)

		case env := <-h.inbound:
			h.handleInbound(env)
		}
	}
}

func (h *Hub) handleAttach(client *Client) {
	if client == nil {
		slog.Warn("received nil client attach, skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	count := len(h.clients)
	h.mutex.Unlock()

	slog.Info("connection opened", "sessionId", client.id, "addr", client.addr, "clients", count)
}

// dropClient tears down one connection: it leaves the client set, its send
// channel closes, and, when the session was registered, the departure is
// announced. Safe to call repeatedly; only the first call has any effect.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)
	slog.Info("connection closed", "sessionId", client.id, "clients", count)

	username, wasRegistered := h.roster.Remove(client.id)
	if !wasRegistered {
		// Never registered: no leave notice, no roster change.
		return
	}

	h.mutex.Lock()
	h.registered = h.roster.Len()
	h.mutex.Unlock()

	h.broadcastRoster()
	h.broadcastNotice(username + " left the chat")
}

func (h *Hub) handleInbound(env Envelope) {
	if env.Client == nil {
		slog.Warn("received inbound event without client, skipping")
		return
	}

	switch env.Event.Event {
	case EventRegister:
		h.registerSession(env.Client, env.Event.Username)
	case EventMessage:
		h.sendMessage(env.Client, env.Event.Text)
	default:
		slog.Debug("ignoring unknown event", "event", env.Event.Event, "sessionId", env.Client.id)
	}
}

// registerSession binds a display name to the session and announces the
// arrival. An empty name is dropped silently. Registering twice overwrites
// the stored name without any announcement.
func (h *Hub) registerSession(client *Client, username string) {
	username = strings.TrimSpace(username)
	if username == "" {
		slog.Debug("dropping registration with empty username", "sessionId", client.id)
		return
	}

	h.mutex.RLock()
	attached := h.clients[client]
	h.mutex.RUnlock()
	if !attached {
		// The registration raced its own connection teardown.
		return
	}

	if first := h.roster.Set(client.id, username); !first {
		slog.Debug("session re-registered", "sessionId", client.id, "username", username)
		return
	}

	h.mutex.Lock()
	h.registered = h.roster.Len()
	h.mutex.Unlock()

	slog.Info("user registered", "sessionId", client.id, "username", username)
	h.broadcastRoster()
	h.broadcastNotice(username + " joined the chat")
}

// sendMessage broadcasts a chat message from a registered session to every
// open connection, the sender included. Unregistered senders and
// whitespace-only text are dropped silently.
func (h *Hub) sendMessage(client *Client, text string) {
	username, ok := h.roster.Name(client.id)
	if !ok {
		slog.Debug("dropping message from unregistered session", "sessionId", client.id)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	h.broadcast(ChatBroadcast{
		Event:     EventMessage,
		Text:      text,
		Username:  username,
		Timestamp: h.stamp(),
		Kind:      KindUser,
	})
}

func (h *Hub) broadcastRoster() {
	h.broadcast(RosterUpdate{
		Event: EventRoster,
		Users: h.roster.Snapshot(),
	})
}

func (h *Hub) broadcastNotice(text string) {
	h.broadcast(ChatBroadcast{
		Event:     EventMessage,
		Text:      text,
		Username:  SystemSender,
		Timestamp: h.stamp(),
		Kind:      KindSystem,
	})
}

// stamp returns the authoritative timestamp for the event being processed.
// Stamps never go backwards even if the wall clock does, so broadcast order
// and timestamp order always agree.
func (h *Hub) stamp() time.Time {
	now := time.Now().UTC()
	if now.Before(h.lastStamp) {
		now = h.lastStamp
	}
	h.lastStamp = now
	return now
}

// broadcast encodes one event and delivers it to a snapshot of every open
// connection. Clients whose outbound queue is full are dropped so one slow
// reader cannot stall the rest.
func (h *Hub) broadcast(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode broadcast", "error", err)
		return
	}

	clients := h.clientSnapshot()

	var failed []*Client
	for _, client := range clients {
		if !h.trySend(client, payload) {
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		slog.Warn("dropping client with full send buffer", "sessionId", client.id, "addr", client.addr)
		h.dropClient(client)
	}
}

// clientSnapshot returns a point-in-time copy of the client set so fan-out
// can iterate without holding the lock.
func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// trySend queues the payload on the client's outbound channel without
// blocking. It reports false when the client is gone or its queue is full.
func (h *Hub) trySend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("recovered from send on closed channel", "panic", r)
		}
	}()

	// Hold the lock across the send so the channel cannot be closed between
	// the membership check and the enqueue.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if !h.clients[client] || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// shutdownClients closes every live transport during hub shutdown.
func (h *Hub) shutdownClients() {
	slog.Info("closing all client connections")

	clients := h.clientSnapshot()
	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing client connection", "sessionId", client.id, "error", err)
		}
	}

	slog.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the run loop and waits for client goroutines to drain,
// up to the given timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		slog.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		slog.Warn("hub shutdown timed out, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
