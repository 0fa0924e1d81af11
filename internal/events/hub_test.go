package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d (got %d)", want, hub.SubscriberCount())
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	hub.PublishTradeApplied(&TradeAppliedEvent{
		TradeID:   "T1",
		Chain:     "arbitrum",
		TraderID:  42,
		FeeToken:  "USDC",
		FeeAmount: "200.000000",
		Splits:    map[string]string{"cashback": "20.000000"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got TradeAppliedEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, EventTradeApplied, got.Type)
	assert.Equal(t, "T1", got.TradeID)
	assert.Equal(t, "20.000000", got.Splits["cashback"])
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)

	// Publishing with no subscribers is a no-op.
	hub.PublishTradeApplied(&TradeAppliedEvent{TradeID: "T2"})
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()

	first := dial(t, server)
	defer first.Close()
	second := dial(t, server)
	defer second.Close()
	waitForSubscribers(t, hub, 2)

	hub.PublishTradeApplied(&TradeAppliedEvent{TradeID: "T3"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), "T3")
	}
}
