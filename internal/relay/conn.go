package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"uk.co.dudmesh.courier/internal/model"
)

// Handshake states. A connection starts Connected and must reach
// Authenticated before any relay traffic is processed for it.
type connState int

const (
	stateConnected connState = iota
	stateAuthenticating
	stateAuthenticated
	stateRejected
)

const writeWait = 10 * time.Second

// Conn wraps one live websocket. Reads happen on the hub's per-connection
// goroutine; writes are funnelled through the send queue and drained by a
// single write pump, so a slow peer never blocks the relay.
type Conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex
	state  connState
	userID model.UserID
	alive  bool
	closed bool

	send chan []byte
}

func newConn(ws *websocket.Conn, queueSize int) *Conn {
	conn := &Conn{
		id:    model.CreateID(),
		ws:    ws,
		state: stateConnected,
		alive: true,
		send:  make(chan []byte, queueSize),
	}
	ws.SetPongHandler(func(string) error {
		conn.markAlive()
		return nil
	})
	return conn
}

func (c *Conn) writePump() {
	defer c.ws.Close()
	for payload := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

// Send marshals frame and queues it. A full queue means the peer has
// stopped draining; the connection is torn down rather than blocking
// every other sender.
func (c *Conn) Send(frame interface{}) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return c.sendRaw(payload)
}

func (c *Conn) sendRaw(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("send on closed connection")
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		c.closeNow()
		return fmt.Errorf("send queue full")
	}
}

// closeWithCode sends a close control frame with a reason code and then
// tears the connection down. Safe to call from any goroutine.
func (c *Conn) closeWithCode(code int, reason string) {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	c.closeNow()
}

func (c *Conn) closeNow() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.ws.Close()
}

func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// sweep reports whether the connection answered the previous probe and
// arms the next one.
func (c *Conn) sweep() (wasAlive bool) {
	c.mu.Lock()
	wasAlive = c.alive
	c.alive = false
	c.mu.Unlock()
	return wasAlive
}

func (c *Conn) setState(state connState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Conn) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) authenticated() bool {
	return c.currentState() == stateAuthenticated
}

// bind attaches the verified identity and marks the handshake complete.
func (c *Conn) bind(userID model.UserID) {
	c.mu.Lock()
	c.userID = userID
	c.state = stateAuthenticated
	c.mu.Unlock()
}

func (c *Conn) boundUser() (model.UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userID != ""
}
