// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, a stats endpoint, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades the HTTP connection, assigns a session id, hands
// the new client to the hub, and starts its read/write pumps. The session
// stays unregistered until the client sends a register event.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, hub, uuid.NewString(), r.RemoteAddr)

	// Attach before starting the pumps so no broadcast is missed; events
	// that arrive in between queue on the send buffer.
	select {
	case client.hub.attach <- client:
		client.Start()
	case <-client.hub.ctx.Done():
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "livechat server is running!")
}

// StatsHandler reports open-connection and registered-session counts as JSON.
func StatsHandler(w http.ResponseWriter, _ *http.Request) {
	open, registered := hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{
		"connections": open,
		"registered":  registered,
	}); err != nil {
		slog.Warn("error writing stats response", "error", err)
	}
}

// TestPageHandler serves an HTML page speaking the livechat protocol: a
// register form, the live roster, and the message log.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>livechat test page</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; display: flex; gap: 20px; }
        #chat { flex: 1; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #roster {
            width: 200px;
            border: 1px solid #ccc;
            padding: 10px;
            background-color: #f1f7ff;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .system { color: gray; font-style: italic; }
        .user .name { font-weight: bold; }
    </style>
</head>
<body>
    <div id="chat">
        <h1>livechat</h1>
        <div>
            <input type="text" id="usernameInput" placeholder="Your name...">
            <button id="joinButton" onclick="join()">Join</button>
        </div>
        <div id="messages"></div>
        <div>
            <input type="text" id="messageInput" placeholder="Type a message..." disabled>
            <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        </div>
    </div>
    <div id="roster">
        <h3>Online (<span id="rosterCount">0</span>)</h3>
        <ul id="rosterList"></ul>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');

        function addMessage(msg) {
            const el = document.createElement('div');
            if (msg.kind === 'system') {
                el.className = 'system';
                el.textContent = msg.text;
            } else {
                el.className = 'user';
                el.innerHTML = '<span class="name">' + msg.username + ':</span> ' + msg.text;
            }
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function renderRoster(users) {
            document.getElementById('rosterCount').textContent = users.length;
            const list = document.getElementById('rosterList');
            list.innerHTML = '';
            users.forEach(function(u) {
                const li = document.createElement('li');
                li.textContent = u.username;
                list.appendChild(li);
            });
        }

        function join() {
            const username = document.getElementById('usernameInput').value.trim();
            if (!username) return;

            ws = new WebSocket('ws://' + window.location.host + '/ws');
            ws.onopen = function() {
                ws.send(JSON.stringify({event: 'register', username: username}));
                messageInput.disabled = false;
                sendButton.disabled = false;
            };
            ws.onmessage = function(e) {
                const msg = JSON.parse(e.data);
                if (msg.event === 'roster') {
                    renderRoster(msg.users);
                } else if (msg.event === 'message') {
                    addMessage(msg);
                }
            };
            ws.onclose = function() {
                messageInput.disabled = true;
                sendButton.disabled = true;
                renderRoster([]);
            };
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: 'message', text: text}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Warn("error writing test page", "error", err)
	}
}
