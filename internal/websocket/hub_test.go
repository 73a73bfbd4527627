package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xelth-com/reportsync/internal/ledger"
)

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestNotifyBroadcastsEvents(t *testing.T) {
	hub, conn := startHub(t)

	hub.Notify(ledger.Event{Type: ledger.EventStatementExecuted, StatementID: 7, Status: "succeeded", RowsAffected: 1})

	msg := readJSON(t, conn)
	if msg["type"] != ledger.EventStatementExecuted || msg["statementId"] != float64(7) || msg["status"] != "succeeded" {
		t.Errorf("unexpected message: %v", msg)
	}
}

func TestSubscribeFiltersEvents(t *testing.T) {
	hub, conn := startHub(t)

	sub := ControlMessage{Type: "SUBSCRIBE", Events: []string{ledger.EventPassCompleted}, MsgID: "m1"}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readJSON(t, conn)
	if ack["type"] != "ACK" || ack["msgId"] != "m1" {
		t.Fatalf("unexpected ack: %v", ack)
	}

	hub.Notify(ledger.Event{Type: ledger.EventStatementExecuted})
	hub.Notify(ledger.Event{Type: ledger.EventPassCompleted, RunID: "run-1"})

	msg := readJSON(t, conn)
	if msg["type"] != ledger.EventPassCompleted || msg["runId"] != "run-1" {
		t.Errorf("filtered listener got %v", msg)
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	// Notify after shutdown must not block
	for i := 0; i < 300; i++ {
		hub.Notify(ledger.Event{Type: ledger.EventPassCompleted})
	}
}
