package wire

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/monitor"
)

type incoming struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func dial(t *testing.T, hub *Hub, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) incoming {
	t.Helper()
	var msg incoming
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func fixedStats() monitor.Stats {
	return monitor.Stats{IsRunning: true, EventsMonitored: 7, Ticks: 3}
}

func TestHub_SendsStatsOnConnect(t *testing.T) {
	hub := NewHub(fixedStats, zap.NewNop())
	conn, ctx := dial(t, hub, "")

	msg := read(t, ctx, conn)
	assert.Equal(t, "stats", msg.Type)
	var s monitor.Stats
	require.NoError(t, json.Unmarshal(msg.Data, &s))
	assert.Equal(t, 7, s.EventsMonitored)
	assert.True(t, s.IsRunning)
}

func TestHub_BroadcastsActivity(t *testing.T) {
	hub := NewHub(fixedStats, zap.NewNop())
	conn, ctx := dial(t, hub, "")
	read(t, ctx, conn)

	e := activity.NewEntry("ev-1", "tour", activity.KindFallbackFired, "Event cancelled", time.Now(), nil)
	require.NoError(t, hub.HandleEntry(ctx, e))

	msg := read(t, ctx, conn)
	assert.Equal(t, "activity", msg.Type)
	var got activity.Entry
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "ev-1", got.EventID)
}

func TestHub_SubscribeFiltersByEvent(t *testing.T) {
	hub := NewHub(fixedStats, zap.NewNop())
	conn, ctx := dial(t, hub, "")
	read(t, ctx, conn)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{
		Type: "subscribe", ID: "s1", Data: json.RawMessage(`{"event_id":"ev-2"}`),
	}))
	ack := read(t, ctx, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "s1", ack.RequestID)

	require.NoError(t, hub.HandleEntry(ctx, activity.NewEntry("ev-1", "tour", activity.KindFollowUpSent, "skip", time.Now(), nil)))
	require.NoError(t, hub.HandleEntry(ctx, activity.NewEntry("ev-2", "tour", activity.KindFollowUpSent, "keep", time.Now(), nil)))

	msg := read(t, ctx, conn)
	var got activity.Entry
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "ev-2", got.EventID)
}

func TestHub_QueryParamFilter(t *testing.T) {
	hub := NewHub(nil, zap.NewNop())
	conn, ctx := dial(t, hub, "?event_id=ev-9")

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.HandleEntry(ctx, activity.NewEntry("ev-1", "tour", activity.KindFollowUpSent, "skip", time.Now(), nil)))
	require.NoError(t, hub.HandleEntry(ctx, activity.NewEntry("ev-9", "tour", activity.KindFollowUpSent, "keep", time.Now(), nil)))

	msg := read(t, ctx, conn)
	var got activity.Entry
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "ev-9", got.EventID)
}

func TestHub_PingStatsAndUnknown(t *testing.T) {
	hub := NewHub(fixedStats, zap.NewNop())
	conn, ctx := dial(t, hub, "")
	read(t, ctx, conn)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "ping", ID: "p1"}))
	msg := read(t, ctx, conn)
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "p1", msg.RequestID)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "stats", ID: "q1"}))
	msg = read(t, ctx, conn)
	assert.Equal(t, "stats", msg.Type)
	assert.Equal(t, "q1", msg.RequestID)

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "bogus", ID: "x1"}))
	msg = read(t, ctx, conn)
	assert.Equal(t, "error", msg.Type)
	var e ErrorData
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "unknown_type", e.Code)
}

func TestHub_PublishStatsAndUnregister(t *testing.T) {
	hub := NewHub(fixedStats, zap.NewNop())
	conn, ctx := dial(t, hub, "")
	read(t, ctx, conn)

	hub.PublishStats(monitor.Stats{EventsMonitored: 42})
	msg := read(t, ctx, conn)
	assert.Equal(t, "stats", msg.Type)
	assert.Contains(t, string(msg.Data), `"events_monitored":42`)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
