package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-relay-backend/models"
)

type staticToken string

func (s staticToken) Validate(candidate string) bool { return string(s) == candidate }

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	hub := NewHub(staticToken("secret"))
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHandleWebSocketRejectsBadToken(t *testing.T) {
	_, srv := startHub(t)

	_, resp, err := dial(t, srv, "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocketUnauthorizedIsJSON(t *testing.T) {
	hub := NewHub(staticToken("secret"))

	w := httptest.NewRecorder()
	hub.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws?token=wrong", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Unauthorized", body.Error)
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	readJSON(t, conn, &hello)
	assert.Equal(t, "connected", hello["type"])

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(models.Event{
		ID:     "e1",
		Type:   models.EventSynthesisComplete,
		State:  models.StateResponded,
		Status: 200,
		Bytes:  42,
	})

	var ev models.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, models.EventSynthesisComplete, ev.Type)
	assert.Equal(t, 42, ev.Bytes)
}

func TestHubPingPong(t *testing.T) {
	_, srv := startHub(t)

	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]string
	readJSON(t, conn, &hello)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	var pong map[string]string
	readJSON(t, conn, &pong)
	assert.Equal(t, "pong", pong["type"])
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(staticToken("x"))
	// Run is not started: the buffer absorbs events, then they are dropped
	for i := 0; i < sendBuffer*2; i++ {
		hub.Publish(models.Event{Type: models.EventTokenIssued})
	}
}
