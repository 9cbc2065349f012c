package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hubServer(t *testing.T, bus *Bus, snap SnapshotFunc) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	hub := NewHub(bus, snap, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, Filter{})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubSendsSnapshotThenDeltas(t *testing.T) {
	bus := NewBus()
	snap := func(ctx context.Context, f Filter) (interface{}, uint64, error) {
		return map[string]int{"orders": 2}, bus.Seq(), nil
	}
	_, conn := hubServer(t, bus, snap)

	first := readMessage(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	assert.NotNil(t, first.Data)

	require.NoError(t, bus.Publish(context.Background(), ChangeEvent{
		Kind: KindOrder, Action: ActionCreated, RecordID: 7,
	}))

	second := readMessage(t, conn)
	assert.Equal(t, "event", second.Type)
	require.NotNil(t, second.Event)
	assert.Equal(t, uint(7), second.Event.RecordID)
	assert.Equal(t, second.Event.Seq, second.Seq)
}

func TestHubResyncRequestRepeatsSnapshot(t *testing.T) {
	bus := NewBus()
	snapshots := 0
	snap := func(ctx context.Context, f Filter) (interface{}, uint64, error) {
		snapshots++
		return map[string]int{"version": snapshots}, bus.Seq(), nil
	}
	_, conn := hubServer(t, bus, snap)

	readMessage(t, conn)
	require.NoError(t, conn.WriteJSON(clientRequest{Type: "resync"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "snapshot", msg.Type)

	var payload map[string]int
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, 2, payload["version"])
}

func TestHubReportsSnapshotFailure(t *testing.T) {
	bus := NewBus()
	snap := func(ctx context.Context, f Filter) (interface{}, uint64, error) {
		return nil, 0, context.DeadlineExceeded
	}
	_, conn := hubServer(t, bus, snap)

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "snapshot failed", msg.Error)
}
