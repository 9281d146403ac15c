package server

import (
	"fmt"
	"net/http"
)

// ServeWS authenticates the handshake, upgrades the connection and attaches
// the new client to the gateway.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := g.verifier.VerifyRequest(r)
	if err != nil {
		g.log.Info("Rejected WebSocket handshake", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	select {
	case <-g.ctx.Done():
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(conn, g, identity, r.RemoteAddr)
	g.Attach(client)
	client.start()
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Nexus realtime gateway is running!")
}

// TestPageHandler serves a debug page that connects with a token and sends
// raw event envelopes.
func (g *Gateway) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		g.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Nexus Realtime Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"], select { padding: 5px; margin-right: 10px; }
        #token { width: 420px; }
        #data { width: 420px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Nexus Realtime Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="token" placeholder="JWT">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <select id="event" disabled>
            <option>join_server</option>
            <option>join_channel</option>
            <option>leave_channel</option>
            <option>join_conversation</option>
            <option>typing</option>
            <option>mark_read</option>
            <option>join_voice_channel</option>
            <option>leave_voice_channel</option>
        </select>
        <input type="text" id="data" placeholder='{"channelId":"general"}' disabled>
        <button id="sendButton" onclick="sendEvent()" disabled>Send</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const eventSelect = document.getElementById('event');
        const dataInput = document.getElementById('data');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '3px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            eventsDiv.appendChild(line);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            eventSelect.disabled = !connected;
            dataInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(document.getElementById('token').value.trim());
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);
            ws.onopen = function() { addLine('connected'); updateStatus(true); };
            ws.onmessage = function(event) { addLine('<- ' + event.data, 'green'); };
            ws.onclose = function() { addLine('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { addLine('connection error', 'red'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendEvent() {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            let data = {};
            const raw = dataInput.value.trim();
            if (raw) {
                try {
                    data = JSON.parse(raw);
                } catch (e) {
                    addLine('invalid JSON: ' + e.message, 'red');
                    return;
                }
            }
            const frame = JSON.stringify({ event: eventSelect.value, data: data });
            ws.send(frame);
            addLine('-> ' + frame, 'blue');
        }

        dataInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendEvent();
            }
        });
    </script>
</body>
</html>`
