package transport

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHandler is a minimal transport.Handler used to drive the gateway
// in tests without a real session.Manager.
type fakeHandler struct {
	mu       sync.Mutex
	allowed  map[string]bool
	received []ClientEvent
}

func (h *fakeHandler) Authorize(sessionID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allowed[sessionID+"|"+userID]
}

func (h *fakeHandler) HandleClientEvent(sessionID, userID string, evt ClientEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, evt)
}

func (h *fakeHandler) OnDisconnect(sessionID, userID string) {}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestGatewaySendsHelloOnConnect(t *testing.T) {
	handler := &fakeHandler{allowed: map[string]bool{}}
	gw := NewGateway(handler, 25*time.Millisecond)
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := dialWS(t, url)
	defer conn.Close()

	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Op != opHello {
		t.Fatalf("expected hello opcode %d, got %d", opHello, hello.Op)
	}
}

func TestGatewayRejectsUnauthorizedInit(t *testing.T) {
	handler := &fakeHandler{allowed: map[string]bool{}}
	gw := NewGateway(handler, 25*time.Millisecond)
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := dialWS(t, url)
	defer conn.Close()

	var hello wsMessage
	_ = conn.ReadJSON(&hello)

	_ = conn.WriteJSON(wsMessage{Op: opInitialize, D: initPayload{SessionID: "s1", UserID: "intruder"}})

	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to be closed after a denied authorization")
	}
}

func TestGatewayBroadcastFansOutToSubscribers(t *testing.T) {
	handler := &fakeHandler{allowed: map[string]bool{"s1|alice": true}}
	gw := NewGateway(handler, 25*time.Millisecond)
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := dialWS(t, url)
	defer conn.Close()

	var hello wsMessage
	_ = conn.ReadJSON(&hello)
	_ = conn.WriteJSON(wsMessage{Op: opInitialize, D: initPayload{SessionID: "s1", UserID: "alice"}})

	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read init ack: %v", err)
	}
	if ack.T != "INIT_ACK" {
		t.Fatalf("expected INIT_ACK, got %q", ack.T)
	}

	gw.Broadcast("s1", OutboundEvent{Type: "reaction", Data: map[string]string{"kind": "fire"}})

	var evt wsMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if evt.T != "reaction" {
		t.Fatalf("expected reaction event, got %q", evt.T)
	}
}

func TestGatewayForwardsClientEvents(t *testing.T) {
	handler := &fakeHandler{allowed: map[string]bool{"s1|alice": true}}
	gw := NewGateway(handler, 25*time.Millisecond)
	srv := httptest.NewServer(gw)
	defer srv.Close()
	defer gw.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := dialWS(t, url)
	defer conn.Close()

	var hello wsMessage
	_ = conn.ReadJSON(&hello)
	_ = conn.WriteJSON(wsMessage{Op: opInitialize, D: initPayload{SessionID: "s1", UserID: "alice"}})
	var ack wsMessage
	_ = conn.ReadJSON(&ack)

	_ = conn.WriteJSON(wsMessage{Op: opClient, D: ClientEvent{Kind: "reaction", Data: map[string]any{"type": "fire"}}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handler.mu.Lock()
		n := len(handler.received)
		handler.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the handler to receive the forwarded client event")
}
