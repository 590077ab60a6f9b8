// Package relay exposes the HTTP surface: the WebSocket upgrade endpoint,
// health check, Prometheus metrics, and the built-in demo page.
package relay

import (
	"encoding/json"
	"net/http"
)

// handleWebSocket upgrades the HTTP request and hands the connection to a
// dispatcher, which runs for the lifetime of the connection in the handler's
// goroutine. The max connection ceiling is advisory: exceeding it is logged
// but never refuses admission.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if count := s.registry.Count(); count >= s.cfg.MaxConnections {
		s.log.Warn().Int("sessions", count).Int("max_connections", s.cfg.MaxConnections).
			Msg("session count above configured ceiling")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	NewDispatcher(conn, s.registry, s.auth, s.cfg, s.log, s.metrics).Run()
}

// handleHealth reports liveness and the current session count.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"service":  "gorelay",
		"sessions": s.registry.Count(),
	})
}

// handleDemoPage serves a minimal browser client speaking the relay wire
// protocol, useful for manual testing without the CLI client.
func (s *Server) handleDemoPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write([]byte(demoPageHTML)); err != nil {
		s.log.Warn().Err(err).Msg("error writing demo page")
	}
}

const demoPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoRelay Demo</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; max-width: 720px; }
        #log {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 13px;
        }
        input[type="text"] { padding: 5px; margin-right: 6px; }
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
    <h1>GoRelay Demo</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="user id">
        <input type="text" id="token" placeholder="token" value="demo-token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button onclick="listUsers()">Online users</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="target" placeholder="target user">
        <input type="text" id="content" placeholder="message" size="30">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function envelope(type, data) {
            return JSON.stringify({
                type: type,
                data: data,
                timestamp: new Date().toISOString(),
                message_id: 'web_' + Date.now()
            });
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const userId = document.getElementById('userId').value.trim();
            const token = document.getElementById('token').value.trim();
            if (!userId || !token) { log('user id and token are required'); return; }

            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = () => ws.send(envelope('auth', { user_id: userId, token: token }));
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                switch (msg.type) {
                case 'connection_established':
                    updateStatus(true);
                    log('connected as ' + msg.data.user_id);
                    break;
                case 'new_message':
                    log(msg.data.from_user + ': ' + msg.data.content);
                    break;
                case 'message_receipt':
                    log('receipt for ' + msg.data.target_user + ': ' + msg.data.status);
                    break;
                case 'online_users':
                    log('online: ' + msg.data.users.join(', '));
                    break;
                case 'user_online':
                    log(msg.data.user_id + ' came online');
                    break;
                case 'user_offline':
                    log(msg.data.user_id + ' went offline');
                    break;
                case 'error':
                    log('error: ' + msg.data.message + ' (' + msg.data.reason + ')');
                    break;
                }
            };
            ws.onclose = () => { updateStatus(false); log('connection closed'); ws = null; };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function sendMessage() {
            const target = document.getElementById('target').value.trim();
            const content = document.getElementById('content').value.trim();
            if (!ws || ws.readyState !== WebSocket.OPEN) { log('not connected'); return; }
            if (!target || !content) { return; }
            ws.send(envelope('send_message', { target_user: target, content: content }));
            log('me -> ' + target + ': ' + content);
            document.getElementById('content').value = '';
        }

        function listUsers() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(envelope('get_online_users', {}));
            }
        }
    </script>
</body>
</html>`
