package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/server"
	"github.com/Tyrowin/nexus-realtime/internal/testkit"
)

func TestInternalAPI_RequiresToken(t *testing.T) {
	e := start(t, func(cfg *server.Config) { cfg.InternalToken = "internal" })
	url := e.server.URL + "/internal/presence"

	require.Equal(t, http.StatusUnauthorized, testkit.MakeRequest(t, http.MethodGet, url, nil, "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, testkit.MakeRequest(t, http.MethodGet, url, nil, "wrong").StatusCode)
	require.Equal(t, http.StatusOK, testkit.MakeRequest(t, http.MethodGet, url, nil, "internal").StatusCode)
}

func TestInternalAPI_Presence(t *testing.T) {
	e := start(t, nil)
	conn := e.connect(t, "alice")
	waitForPresence(t, conn, "alice")

	resp := testkit.MakeRequest(t, http.MethodGet, e.server.URL+"/internal/presence", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Online []string `json:"online"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"alice"}, body.Online)
}

func TestInternalAPI_RejectsBadRequests(t *testing.T) {
	e := start(t, nil)
	messages := e.server.URL + "/internal/messages"
	broadcast := e.server.URL + "/internal/broadcast"
	valid := map[string]any{"id": "m1", "userId": "alice", "content": "hi"}

	tests := []struct {
		name   string
		method string
		url    string
		body   any
	}{
		{name: "message to server room", method: http.MethodPost, url: messages,
			body: map[string]any{"message": valid, "room": "server:s1"}},
		{name: "unknown room kind", method: http.MethodPost, url: messages,
			body: map[string]any{"message": valid, "room": "galaxy:1"}},
		{name: "message without id", method: http.MethodPost, url: messages,
			body: map[string]any{"message": map[string]any{"userId": "alice"}, "room": "channel:c1"}},
		{name: "message for another channel", method: http.MethodPut, url: messages,
			body: map[string]any{"message": map[string]any{"id": "m1", "userId": "a", "channelId": "x"}, "room": "channel:c1"}},
		{name: "delete without id", method: http.MethodDelete, url: messages,
			body: map[string]any{"room": "channel:c1"}},
		{name: "not JSON", method: http.MethodPost, url: messages, body: "just a string"},
		{name: "coordination event", method: http.MethodPost, url: broadcast,
			body: map[string]any{"room": "server:s1", "event": events.NewMessage}},
		{name: "voice room", method: http.MethodPost, url: broadcast,
			body: map[string]any{"room": "voice:v1", "event": events.MemberAdded}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testkit.MakeRequest(t, tt.method, tt.url, tt.body, "")
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestInternalAPI_UpdateAndDelete(t *testing.T) {
	e := start(t, nil)
	bob := e.connect(t, "bob")
	testkit.SendEvent(t, bob, events.JoinChannelEvent, map[string]string{"channelId": "general"})
	testkit.WaitForEvent(t, bob, events.TypingStateSnapshot)
	url := e.server.URL + "/internal/messages"

	resp := testkit.MakeRequest(t, http.MethodPut, url, map[string]any{
		"message": map[string]any{"id": "m1", "userId": "alice", "content": "edited"},
		"room":    "channel:general",
	}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	updated := testkit.Decode[events.Message](t, testkit.WaitForEvent(t, bob, events.MessageUpdated))
	require.Equal(t, "edited", updated.Content)
	require.Equal(t, "general", updated.ChannelID)

	resp = testkit.MakeRequest(t, http.MethodDelete, url, map[string]any{"id": "m1", "room": "channel:general"}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	deleted := testkit.Decode[events.MessageDeletion](t, testkit.WaitForEvent(t, bob, events.MessageDeleted))
	require.Equal(t, events.MessageDeletion{ID: "m1", RoomID: "channel:general", ChannelID: "general"}, deleted)
}

func TestInternalAPI_BroadcastToUserRoom(t *testing.T) {
	e := start(t, nil)
	tab1 := e.connect(t, "bob")
	tab2 := e.connect(t, "bob")
	waitForPresence(t, tab2, "bob")

	resp := testkit.MakeRequest(t, http.MethodPost, e.server.URL+"/internal/broadcast", map[string]any{
		"room": "user:bob", "event": events.NewFriendRequest, "data": map[string]string{"from": "alice"},
	}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.JSONEq(t, `{"from":"alice"}`, string(testkit.WaitForEvent(t, tab1, events.NewFriendRequest)))
	require.JSONEq(t, `{"from":"alice"}`, string(testkit.WaitForEvent(t, tab2, events.NewFriendRequest)))
}

func TestHandlers(t *testing.T) {
	e := start(t, nil)

	resp := testkit.MakeRequest(t, http.MethodGet, e.server.URL+"/", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Nexus realtime gateway is running!", string(body))

	resp = testkit.MakeRequest(t, http.MethodGet, e.server.URL+"/test", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "/ws?token=")

	resp = testkit.MakeRequest(t, http.MethodPost, e.server.URL+"/ws", nil, "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
