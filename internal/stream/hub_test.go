package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
)

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func trade(agentID string, seq int64) *domain.TradeRecord {
	return &domain.TradeRecord{
		TradeID:         "t" + agentID,
		AgentID:         agentID,
		HolderID:        "alice",
		Sequence:        seq,
		Direction:       domain.DirectionBuy,
		GrossAmount:     decimal.NewFromInt(100),
		TokenAmount:     decimal.NewFromInt(1000),
		PriceAfter:      decimal.RequireFromString("0.0001"),
		TokensSoldAfter: decimal.NewFromInt(1000),
		ReserveAfter:    decimal.NewFromInt(99),
		DisplayValue:    decimal.NewFromInt(250),
		CreatedAt:       time.Unix(1700000000, 0).UTC(),
	}
}

func TestHub_BroadcastsTrades(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	hub.PublishTrade(context.Background(), trade("agent-1", 3))

	m := readMessage(t, conn)
	if m.Type != TypeTrade || m.AgentID != "agent-1" {
		t.Fatalf("unexpected message %+v", m)
	}
	var data TradeData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if data.Sequence != 3 || data.GrossAmount != "100" || data.PriceAfter != "0.0001" {
		t.Errorf("unexpected trade payload %+v", data)
	}
}

func TestHub_FiltersByAgent(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "?agent_id=agent-2")
	waitForClients(t, hub, 1)

	hub.PublishTrade(context.Background(), trade("agent-1", 1))
	if err := hub.Publish(context.Background(), &domain.GraduationEvent{
		EventID: "e1",
		AgentID: "agent-2",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m := readMessage(t, conn)
	if m.Type != TypeGraduation || m.AgentID != "agent-2" {
		t.Fatalf("expected agent-2 graduation first, got %+v", m)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(HubConfig{BufferSize: 1, WriteTimeout: 50 * time.Millisecond}, nil)

	// Register a client whose write loop is not running so its queue fills.
	c := &client{agentID: "", send: make(chan []byte, 1)}
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	hub.PublishTrade(context.Background(), trade("agent-1", 1))
	hub.PublishTrade(context.Background(), trade("agent-1", 2))

	if got := hub.Clients(); got != 0 {
		t.Fatalf("slow client still registered, clients = %d", got)
	}
	if !c.closed.Load() {
		t.Error("slow client not marked closed")
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	hub.Close()
	if hub.Clients() != 0 {
		t.Fatalf("clients after close = %d", hub.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read error after hub close")
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(HubConfig{}, nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dial(t, server, "")
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}
