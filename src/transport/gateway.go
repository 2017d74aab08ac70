package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livesession/src/concurrency"
	"livesession/src/logging"
	"livesession/src/metrics"
)

var sendLatency metrics.LatencyRing

// Handler is implemented by the session manager to receive inbound
// client events and to decide whether a user may attach to a session
// at all.
type Handler interface {
	// Authorize reports whether userID may subscribe to sessionID.
	Authorize(sessionID, userID string) bool
	// HandleClientEvent processes an inbound event from an attached
	// connection.
	HandleClientEvent(sessionID, userID string, evt ClientEvent)
	// OnDisconnect notifies the handler that userID's socket closed.
	OnDisconnect(sessionID, userID string)
}

type connState struct {
	sessionID     string
	userID        string
	lastHeartbeat time.Time
	misses        int
	mu            sync.Mutex
	writeMu       sync.Mutex
	queue         *outboundQueue
}

// Gateway fans out per-session broadcasts to subscribed WebSocket
// connections and forwards inbound client events to a Handler.
type Gateway struct {
	handler           Handler
	upgrader          websocket.Upgrader
	heartbeatInterval time.Duration

	stateMu sync.Mutex
	state   map[*websocket.Conn]*connState
	// subs maps sessionID -> set of connections attached to it.
	subs map[string]map[*websocket.Conn]struct{}

	seq int64
}

// NewGateway constructs a Gateway bound to handler. heartbeatInterval
// is advertised to clients in the hello frame and drives the server's
// own missed-beat eviction; a non-positive value falls back to
// defaultHeartbeatInterval.
func NewGateway(handler Handler, heartbeatInterval time.Duration) *Gateway {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &Gateway{
		handler:           handler,
		heartbeatInterval: heartbeatInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		state: make(map[*websocket.Conn]*connState),
		subs:  make(map[string]map[*websocket.Conn]struct{}),
	}
}

// MessageP99 returns the p99 of recent websocket send latencies.
func (g *Gateway) MessageP99() time.Duration {
	return sendLatency.P99()
}

// ServeHTTP upgrades the connection and runs its read loop until it
// disconnects or is dropped for heartbeat timeout.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("gateway: upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 20) // 1 MiB

	state := g.registerConn(conn)
	g.sendHello(conn)
	go g.watchHeartbeats(conn)
	go g.runWriter(conn, state.queue)
	g.handleConn(conn)
}

func (g *Gateway) registerConn(conn *websocket.Conn) *connState {
	state := &connState{lastHeartbeat: time.Now(), queue: newOutboundQueue()}
	g.stateMu.Lock()
	g.state[conn] = state
	g.stateMu.Unlock()
	return state
}

func (g *Gateway) sendHello(conn *websocket.Conn) {
	hello := wsMessage{Op: opHello, D: helloPayload{HeartbeatInterval: int(g.heartbeatInterval / time.Millisecond)}}
	_ = g.writeJSON(conn, hello)
}

func (g *Gateway) handleConn(conn *websocket.Conn) {
	defer g.cleanupConn(conn)
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Op {
		case opInitialize:
			g.handleInit(conn, msg.D)
		case opHeartbeat:
			g.touchHeartbeat(conn)
			_ = g.writeJSON(conn, wsMessage{Op: opHeartbeat})
		case opClient:
			g.handleClient(conn, msg.D)
		default:
			g.closeWithCode(conn, 4004, "unknown_opcode")
			return
		}
	}
}

func (g *Gateway) handleInit(conn *websocket.Conn, raw any) {
	payload, ok := decode[initPayload](raw)
	if !ok || payload.SessionID == "" || payload.UserID == "" {
		g.closeWithCode(conn, 4005, "requires_session_and_user")
		return
	}
	if !g.handler.Authorize(payload.SessionID, payload.UserID) {
		g.closeWithCode(conn, 4003, "not_authorized")
		return
	}

	g.stateMu.Lock()
	state, ok := g.state[conn]
	if !ok {
		g.stateMu.Unlock()
		return
	}
	state.sessionID = payload.SessionID
	state.userID = payload.UserID
	if g.subs[payload.SessionID] == nil {
		g.subs[payload.SessionID] = make(map[*websocket.Conn]struct{})
	}
	g.subs[payload.SessionID][conn] = struct{}{}
	g.stateMu.Unlock()

	g.sendEvent(conn, "INIT_ACK", nil)
}

func (g *Gateway) handleClient(conn *websocket.Conn, raw any) {
	evt, ok := decode[ClientEvent](raw)
	if !ok {
		return
	}
	g.stateMu.Lock()
	state, ok := g.state[conn]
	g.stateMu.Unlock()
	if !ok || state.sessionID == "" {
		return
	}
	g.handler.HandleClientEvent(state.sessionID, state.userID, evt)
}

func decode[T any](raw any) (T, bool) {
	var out T
	if raw == nil {
		return out, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

func (g *Gateway) touchHeartbeat(conn *websocket.Conn) {
	g.stateMu.Lock()
	state, ok := g.state[conn]
	g.stateMu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.lastHeartbeat = time.Now()
	state.misses = 0
	state.mu.Unlock()
}

func (g *Gateway) watchHeartbeats(conn *websocket.Conn) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()
	timeout := g.heartbeatInterval * time.Duration(maxHeartbeatMisses)
	for range ticker.C {
		g.stateMu.Lock()
		state, ok := g.state[conn]
		g.stateMu.Unlock()
		if !ok {
			return
		}

		state.mu.Lock()
		sinceBeat := time.Since(state.lastHeartbeat)
		expected := g.heartbeatInterval + heartbeatJitter
		if sinceBeat > expected {
			state.misses++
		} else {
			state.misses = 0
		}
		misses := state.misses
		state.mu.Unlock()

		if misses >= maxHeartbeatMisses || sinceBeat > timeout {
			logging.Log.WithField("conn", conn.RemoteAddr().String()).Warn("gateway: heartbeat timeout")
			g.cleanupConn(conn)
			return
		}
	}
}

// sendEvent enqueues event for conn's writer goroutine rather than
// writing it inline, so a slow or blocked reader can never stall the
// broadcaster that called it.
func (g *Gateway) sendEvent(conn *websocket.Conn, event string, data any) {
	g.stateMu.Lock()
	state, ok := g.state[conn]
	g.stateMu.Unlock()
	if !ok {
		return
	}
	state.queue.push(OutboundEvent{Type: event, Data: data})
}

// runWriter drains conn's outbound queue until it is closed,
// performing the actual blocking write on its own goroutine so
// Broadcast and sendEvent never touch the network directly.
func (g *Gateway) runWriter(conn *websocket.Conn, queue *outboundQueue) {
	for {
		evt, ok := queue.pop()
		if !ok {
			return
		}
		msg := wsMessage{Op: opEvent, Seq: g.nextSeq(), T: evt.Type, D: evt.Data}
		start := time.Now()
		err := g.writeJSON(conn, msg)
		sendLatency.Record(time.Since(start))
		if err != nil {
			logging.Log.WithError(err).Warn("gateway: send failed")
			go g.cleanupConn(conn)
			return
		}
	}
}

func (g *Gateway) writeJSON(conn *websocket.Conn, v any) error {
	g.stateMu.Lock()
	state, ok := g.state[conn]
	g.stateMu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (g *Gateway) writeControl(conn *websocket.Conn, messageType int, data []byte, deadline time.Time) error {
	g.stateMu.Lock()
	state, ok := g.state[conn]
	g.stateMu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	state.writeMu.Lock()
	defer state.writeMu.Unlock()
	return conn.WriteControl(messageType, data, deadline)
}

// Broadcast fans evt out to every connection attached to sessionID.
func (g *Gateway) Broadcast(sessionID string, evt OutboundEvent) {
	g.stateMu.Lock()
	conns := g.subs[sessionID]
	targets := make([]*websocket.Conn, 0, len(conns))
	for conn := range conns {
		targets = append(targets, conn)
	}
	g.stateMu.Unlock()

	if len(targets) == 0 {
		return
	}

	logging.Log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"event_type": evt.Type,
		"subs":       len(targets),
	}).Debug("gateway broadcast")

	for _, conn := range targets {
		g.sendEvent(conn, evt.Type, evt.Data)
	}
}

func (g *Gateway) cleanupConn(conn *websocket.Conn) {
	g.stateMu.Lock()
	state, ok := g.state[conn]
	delete(g.state, conn)
	if ok && state.sessionID != "" {
		if set := g.subs[state.sessionID]; set != nil {
			delete(set, conn)
			if len(set) == 0 {
				delete(g.subs, state.sessionID)
			}
		}
	}
	g.stateMu.Unlock()

	if ok {
		state.queue.close()
		state.writeMu.Lock()
		_ = conn.Close()
		state.writeMu.Unlock()
		if state.sessionID != "" {
			concurrency.GoSafe(func() { g.handler.OnDisconnect(state.sessionID, state.userID) })
		}
	} else {
		_ = conn.Close()
	}
}

func (g *Gateway) closeWithCode(conn *websocket.Conn, code int, reason string) {
	_ = g.writeControl(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	g.cleanupConn(conn)
}

// Close closes every active connection.
func (g *Gateway) Close() {
	g.stateMu.Lock()
	for conn := range g.state {
		_ = conn.Close()
	}
	g.state = make(map[*websocket.Conn]*connState)
	g.subs = make(map[string]map[*websocket.Conn]struct{})
	g.stateMu.Unlock()
}

func (g *Gateway) nextSeq() int64 {
	return atomic.AddInt64(&g.seq, 1)
}
