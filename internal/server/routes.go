package server

import "net/http"

// Routes returns the gateway's HTTP surface: health, the WebSocket endpoint,
// the test page and the internal API.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", g.ServeWS)
	mux.HandleFunc("/test", g.TestPageHandler)

	mux.HandleFunc("POST /internal/messages", g.requireInternalToken(g.handleDeliver))
	mux.HandleFunc("PUT /internal/messages", g.requireInternalToken(g.handleUpdate))
	mux.HandleFunc("DELETE /internal/messages", g.requireInternalToken(g.handleDelete))
	mux.HandleFunc("POST /internal/broadcast", g.requireInternalToken(g.handleBroadcast))
	mux.HandleFunc("GET /internal/presence", g.requireInternalToken(g.handlePresence))
	mux.HandleFunc("GET /internal/voice/{channelId}", g.requireInternalToken(g.handleVoiceRoster))
	return mux
}
