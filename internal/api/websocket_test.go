package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/logging"
)

func testHub() *Hub {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
}

func newHubClient(h *Hub, channels ...string) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	h.Register(c)
	return c
}

func TestHub_BroadcastToSubscribers(t *testing.T) {
	h := testHub()
	subscribed := newHubClient(h, ChannelEntityStateChanged)
	other := newHubClient(h)

	h.Broadcast(ChannelEntityStateChanged, map[string]string{"entity_id": "switch.desk"})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, WSTypeEvent, msg.Type)
		assert.Equal(t, ChannelEntityStateChanged, msg.EventType)
	default:
		t.Fatal("subscribed client received nothing")
	}

	assert.Empty(t, other.send, "unsubscribed client should receive nothing")
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	c := newHubClient(h)
	assert.Equal(t, 1, h.ClientCount())

	h.Unregister(c)
	assert.Equal(t, 0, h.ClientCount())

	// A second unregister must not close the channel again.
	h.Unregister(c)

	// Sending to a closed client is absorbed.
	c.trySend([]byte("x"))
}

func TestHub_FullBufferDropsMessage(t *testing.T) {
	h := testHub()
	c := newHubClient(h, "ch")
	for i := 0; i < wsSendBufferSize+5; i++ {
		h.Broadcast("ch", i)
	}
	assert.Len(t, c.send, wsSendBufferSize)
}

func TestWSClient_HandleMessage(t *testing.T) {
	h := testHub()
	h.SetInitialState("ch", func() []any { return []any{"a", "b"} })
	c := newHubClient(h)

	c.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["ch"]}}`))
	assert.True(t, c.isSubscribed("ch"))
	require.Len(t, c.send, 3, "response plus two replayed states")

	var resp WSMessage
	require.NoError(t, json.Unmarshal(<-c.send, &resp))
	assert.Equal(t, WSTypeResponse, resp.Type)
	assert.Equal(t, "1", resp.ID)

	<-c.send
	<-c.send

	c.handleMessage([]byte(`{"type":"unsubscribe","id":"2","payload":{"channels":["ch"]}}`))
	assert.False(t, c.isSubscribed("ch"))
	<-c.send

	c.handleMessage([]byte(`{"type":"ping","id":"3"}`))
	require.NoError(t, json.Unmarshal(<-c.send, &resp))
	assert.Equal(t, WSTypePong, resp.Type)

	c.handleMessage([]byte(`not json`))
	require.NoError(t, json.Unmarshal(<-c.send, &resp))
	assert.Equal(t, WSTypeError, resp.Type)

	c.handleMessage([]byte(`{"type":"bogus"}`))
	require.NoError(t, json.Unmarshal(<-c.send, &resp))
	assert.Equal(t, WSTypeError, resp.Type)
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_EndToEnd(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	setupPlug(t, m, "Desk")

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub",
		Payload: WSSubscribePayload{Channels: []string{ChannelEntityStateChanged}},
	}))

	ack := readEvent(t, conn)
	assert.Equal(t, WSTypeResponse, ack.Type)

	// Initial replay: one event per entity.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		msg := readEvent(t, conn)
		require.Equal(t, WSTypeEvent, msg.Type)
		payload, _ := msg.Payload.(map[string]any)
		id, _ := payload["entity_id"].(string)
		seen[id] = true
	}
	assert.True(t, seen["switch.desk"])

	// A command pushes fresh states.
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/services/turn_on", `{"entity_id":"switch.desk"}`)
	require.Equal(t, http.StatusOK, w.Code)

	for {
		msg := readEvent(t, conn)
		payload, _ := msg.Payload.(map[string]any)
		if payload["entity_id"] == "switch.desk" && payload["state"] == "on" {
			break
		}
	}
}

func TestWebSocket_TicketRequiredWithAuth(t *testing.T) {
	srv, _ := testServer(t, testOptions{secret: testSecret})

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	ticket := srv.tickets.issue()
	conn, resp, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()

	_, resp, err = websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
	require.Error(t, err, "tickets are single-use")
	resp.Body.Close()
}
