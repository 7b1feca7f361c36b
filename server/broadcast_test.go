package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/upilookup/pulse/async"
)

func dialWS(t *testing.T, env *testEnv, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readEvent reads frames until one that is not a log line.
func readEvent(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type != MessageLog {
			return msg
		}
	}
}

func TestWebSocketStreamsRunEvents(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	conn, _, err := dialWS(t, env, "")
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readMessage(t, conn)
	assert.Equal(t, MessageSnapshot, snapshot.Type)
	require.NotNil(t, snapshot.State)
	assert.Equal(t, async.StatusIdle, snapshot.State.Status)

	require.Equal(t, http.StatusAccepted,
		env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543210", "9876543211", "9876543212"}}).StatusCode)

	var kinds []async.EventKind
	settled := 0
	for {
		msg := readEvent(t, conn)
		require.Equal(t, MessageEvent, msg.Type)
		require.NotNil(t, msg.Event)
		kinds = append(kinds, msg.Event.Kind)
		if msg.Event.Kind == async.EventItemSettled {
			settled++
			assert.Equal(t, settled, msg.Event.State.Settled(), "each event carries its own snapshot")
		}
		if msg.Event.Kind == async.EventRunCompleted {
			break
		}
	}
	assert.Equal(t, async.EventRunStarted, kinds[0])
	assert.Equal(t, 3, settled)
}

func TestWebSocketControlCommands(t *testing.T) {
	client := &stubClient{hold: make(chan struct{})}
	env := newTestEnv(t, client, false)

	conn, _, err := dialWS(t, env, "http://localhost:5173")
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn) // snapshot

	// Rejected while idle
	require.NoError(t, conn.WriteJSON(wsCommand{Action: "pause"}))
	msg := readEvent(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Error, "cannot pause run while idle")

	require.Equal(t, http.StatusAccepted,
		env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543210"}}).StatusCode)
	require.NoError(t, conn.WriteJSON(wsCommand{Action: "pause"}))

	for {
		msg := readMessage(t, conn)
		require.NotEqual(t, MessageError, msg.Type, msg.Error)
		if msg.Event != nil && msg.Event.Kind == async.EventRunPaused {
			break
		}
	}
	assert.Equal(t, async.StatusPaused, env.ctrl.Snapshot().Status)

	require.NoError(t, conn.WriteJSON(wsCommand{Action: "reset"}))
	for {
		msg := readMessage(t, conn)
		if msg.Type == MessageError {
			assert.Contains(t, msg.Error, "only available over HTTP")
			break
		}
	}
	require.NoError(t, env.ctrl.Cancel())
}

func TestWebSocketStreamsServerLogs(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	conn, _, err := dialWS(t, env, "")
	require.NoError(t, err)
	defer conn.Close()
	readMessage(t, conn) // snapshot

	require.Equal(t, http.StatusAccepted,
		env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543210", "not-a-number"}}).StatusCode)

	for {
		msg := readMessage(t, conn)
		if msg.Type != MessageLog || msg.Log.Message != "Run submitted" {
			continue
		}
		assert.Equal(t, "info", msg.Log.Level)
		assert.Equal(t, "server", msg.Log.Logger)
		assert.EqualValues(t, 1, msg.Log.Fields["accepted"])
		assert.EqualValues(t, 1, msg.Log.Fields["invalid"])
		break
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	_, resp, err := dialWS(t, env, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)
	env.srv.logs.UnregisterClient("hub")

	slow := &Client{server: env.srv, send: make(chan wsMessage, 1), id: "slow-client"}
	env.srv.mu.Lock()
	env.srv.clients[slow] = true
	env.srv.mu.Unlock()

	env.srv.broadcastEvent(async.Event{Kind: async.EventRunStarted})
	env.srv.broadcastEvent(async.Event{Kind: async.EventRunPaused})

	assert.Equal(t, int64(1), env.srv.broadcastDrops.Load())
	first := <-slow.send
	assert.Equal(t, async.EventRunStarted, first.Event.Kind)

	env.srv.mu.Lock()
	delete(env.srv.clients, slow)
	env.srv.mu.Unlock()
	slow.close()
	assert.False(t, slow.trySend(wsMessage{Type: MessageEvent}), "closed client accepts nothing")
}
