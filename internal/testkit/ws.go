package testkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-realtime/internal/events"
)

// Origin is the origin test clients present; gateways under test allow it.
const Origin = "http://localhost:8080"

// IssueToken signs an HS256 token the way the auth service does.
func IssueToken(t *testing.T, secret, userID, username string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   userID,
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// Dial opens a WebSocket with token in the query string. The connection is
// closed when the test ends.
func Dial(t *testing.T, wsURL, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := DialWithHeader(wsURL+"?token="+token, http.Header{"Origin": {Origin}})
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithHeader dials a raw ws:// URL.
func DialWithHeader(wsURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(wsURL, header)
}

// SendEvent writes one event envelope.
func SendEvent(t *testing.T, conn *websocket.Conn, name events.Name, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(events.Envelope{Event: name, Data: raw}))
}

// WaitForEvent reads frames until one named name arrives and returns its data.
// Other events are skipped.
func WaitForEvent(t *testing.T, conn *websocket.Conn, name events.Name) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env events.Envelope
		err := conn.ReadJSON(&env)
		require.NoError(t, err, "waiting for %s", name)
		if env.Event == name {
			return env.Data
		}
	}
}

// ExpectNoEvent fails if an event named name arrives within wait. The read
// deadline it leaves behind makes conn unusable for further reads.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, name events.Name, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		require.NotEqual(t, name, env.Event, "unexpected %s", name)
	}
}

// Decode unmarshals an event payload into a new T.
func Decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// MakeRequest sends body as JSON with an optional bearer token.
func MakeRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
