package staking_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relikt/staking-engine/internal/metrics"
	"github.com/relikt/staking-engine/internal/staking"
)

// waitForGauge polls the client gauge until it reaches want.
func waitForGauge(t *testing.T, want float64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.WebSocketClients) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client gauge = %v, want %v", testutil.ToFloat64(metrics.WebSocketClients), want)
}

func TestWSHub_BroadcastAndClientGauge(t *testing.T) {
	hub := staking.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	base := testutil.ToFloat64(metrics.WebSocketClients)

	c1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c1.Close()
	c2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c2.Close()
	waitForGauge(t, base+2)

	// Every connected client receives a broadcast.
	hub.Broadcast(staking.WSMessage{Type: "distribution_activated", Asset: "USDX"})
	for i, c := range []*websocket.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg staking.WSMessage
		if err := c.ReadJSON(&msg); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if msg.Type != "distribution_activated" || msg.Asset != "USDX" {
			t.Errorf("client %d got %+v", i, msg)
		}
	}

	// A dropped client is reaped exactly once, whether its read pump or a
	// failed broadcast write notices first.
	c1.Close()
	hub.Broadcast(staking.WSMessage{Type: "reward_claimed", Asset: "USDX"})
	waitForGauge(t, base+1)

	c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg staking.WSMessage
	if err := c2.ReadJSON(&msg); err != nil {
		t.Fatalf("surviving client read: %v", err)
	}
	if msg.Type != "reward_claimed" {
		t.Errorf("surviving client got %+v", msg)
	}

	c2.Close()
	waitForGauge(t, base)
}
