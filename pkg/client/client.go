package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
)

// Frame types the relay speaks. Handlers subscribe by these keys.
const (
	FrameAuth                = "auth"
	FrameAuthSuccess         = "auth_success"
	FrameMessage             = "message"
	FrameMessageConfirmation = "message_confirmation"
	FrameMessageHistory      = "message_history"
	FrameTyping              = "typing"
	FrameUserList            = "user_list"
	FrameError               = "error"

	// FrameConnectionFailed is a local event, never sent by the server:
	// it fires once when the reconnect budget is exhausted.
	FrameConnectionFailed = "connection_failed"
)

var ErrNotConnected = errors.New("not connected")
var ErrManuallyClosed = errors.New("session manually closed")
var ErrHandshakeTimeout = errors.New("handshake timed out")

// Status of the session: disconnected, connecting, connected but not yet
// authenticated, authenticated.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
)

// Handler receives the raw frame payload for its subscribed type.
type Handler func(frame []byte)

type Config struct {
	URL              string
	ReconnectDelay   time.Duration // default 2s
	MaxReconnects    int           // default 5
	HandshakeTimeout time.Duration // default 10s
}

// Client owns one outbound relay connection: it performs the auth
// handshake, reconnects with a bounded retry budget when the transport
// drops, and fans received frames out to type-keyed subscribers.
type Client struct {
	config Config
	log    *log.Logger

	mu       sync.Mutex
	ws       *websocket.Conn
	status   Status
	token    string
	manual   bool
	attempts int
	handlers map[string]map[int]Handler
	nextSub  int
	seen     map[string]struct{}
	authDone chan error
	done     chan struct{}

	writeMu sync.Mutex
}

func New(config Config) *Client {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 5
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		config:   config,
		log:      log.New("courier-client"),
		handlers: make(map[string]map[int]Handler),
		seen:     make(map[string]struct{}),
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect opens the transport, sends the auth frame, and resolves once
// the server answers with auth_success. A failed handshake tears the
// connection down and returns the reason.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect while not disconnected")
	}
	c.token = token
	c.manual = false
	c.attempts = 0
	c.status = StatusConnecting
	c.done = make(chan struct{})
	authDone := make(chan error, 1)
	c.authDone = authDone
	c.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.authDone = nil
		c.mu.Unlock()
		return fmt.Errorf("dialing %s: %w", c.config.URL, err)
	}

	c.attach(ws)
	go c.readLoop(ws)
	if err := c.sendAuth(); err != nil {
		c.Disconnect()
		return err
	}

	select {
	case err := <-authDone:
		if err != nil {
			c.Disconnect()
			return err
		}
		return nil
	case <-time.After(c.config.HandshakeTimeout):
		c.Disconnect()
		return ErrHandshakeTimeout
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	}
}

// Disconnect is idempotent. It marks the session as manually closed,
// which suppresses auto-reconnect and cancels any pending reconnect
// timer, and releases every registered handler.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.status = StatusDisconnected
	ws := c.ws
	c.ws = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.authDone != nil {
		c.authDone <- ErrManuallyClosed
		c.authDone = nil
	}
	c.handlers = make(map[string]map[int]Handler)
	c.mu.Unlock()

	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	}
}

func (c *Client) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.status = StatusConnected
	c.mu.Unlock()
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		c.handleFrame(data)
	}

	c.mu.Lock()
	stale := c.ws != ws
	if !stale {
		c.ws = nil
		c.status = StatusDisconnected
	}
	manual := c.manual
	if c.authDone != nil && !stale {
		c.authDone <- fmt.Errorf("connection closed during handshake")
		c.authDone = nil
	}
	c.mu.Unlock()

	if stale || manual {
		return
	}
	c.reconnect()
}

func (c *Client) handleFrame(data []byte) {
	var tag struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(data, &tag); err != nil || tag.Type == "" {
		c.log.Warnf("discarding untagged frame: %v", err)
		return
	}

	switch tag.Type {
	case FrameAuthSuccess:
		c.mu.Lock()
		c.status = StatusAuthenticated
		c.attempts = 0
		if c.authDone != nil {
			c.authDone <- nil
			c.authDone = nil
		}
		c.mu.Unlock()

	case FrameMessage:
		// Redelivery of a known message id is a no-op.
		if tag.MessageID != "" {
			c.mu.Lock()
			_, duplicate := c.seen[tag.MessageID]
			if !duplicate {
				c.seen[tag.MessageID] = struct{}{}
			}
			c.mu.Unlock()
			if duplicate {
				return
			}
		}
	}

	c.dispatch(tag.Type, data)
}

// reconnect retries the transport with a fixed delay until the budget is
// exhausted, then surfaces a terminal connection_failed event. A manual
// disconnect at any point stops the loop silently.
func (c *Client) reconnect() {
	for {
		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.config.MaxReconnects {
			c.status = StatusDisconnected
			c.mu.Unlock()
			c.log.Errorf("giving up after %d reconnect attempts", c.config.MaxReconnects)
			c.dispatch(FrameConnectionFailed, []byte(`{"type":"connection_failed"}`))
			return
		}
		c.attempts++
		attempt := c.attempts
		done := c.done
		token := c.token
		c.status = StatusConnecting
		c.mu.Unlock()

		c.log.Infof("reconnect attempt %d/%d", attempt, c.config.MaxReconnects)
		timer := time.NewTimer(c.config.ReconnectDelay)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}

		ws, _, err := websocket.DefaultDialer.Dial(c.config.URL, nil)
		if err != nil {
			c.log.Warnf("reconnect dial failed: %v", err)
			continue
		}

		c.attach(ws)
		go c.readLoop(ws)
		if err := c.send(authFrame{Type: FrameAuth, Token: token}); err != nil {
			c.log.Warnf("reconnect auth failed: %v", err)
			c.mu.Lock()
			if c.ws == ws {
				c.ws = nil
			}
			c.mu.Unlock()
			ws.Close()
			continue
		}
		return
	}
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type messageFrame struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	AuxData     string `json:"auxData,omitempty"`
}

type typingFrame struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

func (c *Client) sendAuth() error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	return c.send(authFrame{Type: FrameAuth, Token: token})
}

// Send marshals and writes an arbitrary frame on the live connection.
func (c *Client) Send(frame interface{}) error {
	return c.send(frame)
}

// SendMessage relays an opaque payload to the recipient. AuxData rides
// along uninterpreted (an IV, for instance).
func (c *Client) SendMessage(recipientID, content, auxData string) error {
	return c.send(messageFrame{
		Type:        FrameMessage,
		RecipientID: recipientID,
		Content:     content,
		AuxData:     auxData,
	})
}

func (c *Client) SendTyping(recipientID string, isTyping bool) error {
	return c.send(typingFrame{
		Type:        FrameTyping,
		RecipientID: recipientID,
		IsTyping:    isTyping,
	})
}

func (c *Client) send(frame interface{}) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
