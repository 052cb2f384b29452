package relay

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"github.com/samber/lo"
	"uk.co.dudmesh.courier/internal/boot"
	"uk.co.dudmesh.courier/internal/model"
	"uk.co.dudmesh.courier/internal/wire"
)

// Store is the durable collaborator the hub relays through. Creates and
// status updates are assumed atomic; the hub never holds a lock across
// a call into it.
type Store interface {
	FindUser(id model.UserID) (*model.User, error)
	ListUsers() ([]model.User, error)
	TouchLastActive(id model.UserID, at time.Time) error
	CreateMessage(sender, recipient model.UserID, content, auxData string) (*model.Message, error)
	UpdateMessageStatus(id model.MessageID, status model.MessageStatus) error
	MessagesForParticipant(id model.UserID, limit int) ([]model.Message, error)
}

type TokenVerifier interface {
	VerifyToken(token string) (model.UserID, error)
}

// Hub owns the connection registry and drives every per-connection read
// loop, the heartbeat sweep, and the presence broadcaster.
type Hub struct {
	config   *boot.Config
	log      *log.Logger
	store    Store
	verifier TokenVerifier
	registry *Registry

	// presence is the broadcaster's mailbox. Registry mutations post to
	// it; a single goroutine serializes roster pushes so every broadcast
	// reflects a consistent snapshot.
	presence chan struct{}
}

func NewHub(config *boot.Config, store Store, verifier TokenVerifier) *Hub {
	return &Hub{
		config:   config,
		log:      log.New("relay"),
		store:    store,
		verifier: verifier,
		registry: NewRegistry(),
		presence: make(chan struct{}, 1),
	}
}

// Run drives the presence broadcaster and the heartbeat monitor until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	go h.runHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.presence:
			h.broadcastRoster()
		}
	}
}

// ServeConn drives one client connection from transport-open to
// teardown. It blocks for the connection's lifetime.
func (h *Hub) ServeConn(ws *websocket.Conn) {
	conn := newConn(ws, h.config.Relay.SendQueueSize)
	go conn.writePump()

	graceTimer := time.AfterFunc(h.config.Auth.GraceWindow, func() {
		if !conn.authenticated() {
			h.log.Infof("connection %s: no auth frame within grace window", conn.id)
			conn.closeWithCode(wire.CloseAuthTimeout, "authentication timeout")
		}
	})
	defer graceTimer.Stop()
	defer h.teardown(conn)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		envelope, err := wire.Decode(data)
		if err != nil {
			if !conn.authenticated() {
				conn.closeWithCode(wire.CloseAuthFailed, "malformed frame")
				return
			}
			conn.Send(wire.NewError("malformed frame"))
			continue
		}

		switch envelope.Type {
		case wire.TypeAuth:
			if conn.authenticated() {
				conn.Send(wire.NewError("already authenticated"))
				continue
			}
			graceTimer.Stop()
			if !h.authenticate(conn, envelope.Token) {
				return
			}

		case wire.TypeMessage:
			if !conn.authenticated() {
				conn.closeWithCode(wire.CloseUnauthorized, "unauthorized")
				return
			}
			h.relayMessage(conn, envelope)

		case wire.TypeTyping:
			if !conn.authenticated() {
				conn.closeWithCode(wire.CloseUnauthorized, "unauthorized")
				return
			}
			h.relayTyping(conn, envelope)

		default:
			if !conn.authenticated() {
				conn.closeWithCode(wire.CloseUnauthorized, "unauthorized")
				return
			}
			conn.Send(wire.NewError("unknown frame type: " + envelope.Type))
		}
	}
}

// authenticate runs the handshake for one auth frame. On failure the
// connection is closed with a distinguishing reason code and false is
// returned so the read loop exits.
func (h *Hub) authenticate(conn *Conn, token string) bool {
	conn.setState(stateAuthenticating)

	if token == "" {
		conn.setState(stateRejected)
		conn.closeWithCode(wire.CloseAuthFailed, "malformed auth frame")
		return false
	}

	userID, err := h.verifier.VerifyToken(token)
	if err != nil {
		conn.setState(stateRejected)
		conn.closeWithCode(wire.CloseAuthFailed, "authentication failed")
		return false
	}

	user, err := h.store.FindUser(userID)
	if err != nil {
		conn.setState(stateRejected)
		if errors.Is(err, model.ErrorUserNotFound) {
			conn.closeWithCode(wire.CloseUserNotFound, "user not found")
		} else {
			h.log.Errorf("connection %s: looking up %s: %v", conn.id, userID, err)
			conn.closeWithCode(wire.CloseAuthFailed, "authentication failed")
		}
		return false
	}

	conn.bind(user.ID)

	if displaced := h.registry.Register(user.ID, conn); displaced != nil {
		h.log.Infof("user %s: closing superseded session %s", user.ID, displaced.id)
		displaced.closeWithCode(websocket.CloseNormalClosure, "session superseded")
	}
	if err := h.store.TouchLastActive(user.ID, time.Now().UTC()); err != nil {
		h.log.Errorf("user %s: touching last active: %v", user.ID, err)
	}

	h.log.Infof("user %s authenticated on connection %s", user.ID, conn.id)
	conn.Send(wire.NewAuthSuccess(user))
	h.sendHistory(conn, user.ID)
	h.notifyPresence()
	return true
}

// teardown runs once per connection, whatever killed it: clean close,
// read error, heartbeat timeout or handshake rejection.
func (h *Hub) teardown(conn *Conn) {
	conn.closeNow()

	userID, bound := conn.boundUser()
	if !bound {
		return
	}
	if !h.registry.Unregister(userID, conn) {
		return
	}
	h.log.Infof("user %s disconnected", userID)
	if err := h.store.TouchLastActive(userID, time.Now().UTC()); err != nil {
		h.log.Errorf("user %s: touching last active: %v", userID, err)
	}
	h.notifyPresence()
}

// relayMessage persists the message and forwards it when the recipient
// is reachable. The sender always gets either a confirmation carrying
// the final status or an explicit error frame.
func (h *Hub) relayMessage(conn *Conn, envelope *wire.Envelope) {
	sender, _ := conn.boundUser()

	if envelope.Content == "" {
		conn.Send(wire.NewError("message content is required"))
		return
	}
	if envelope.RecipientID == "" {
		conn.Send(wire.NewError("recipientId is required"))
		return
	}

	message, err := h.store.CreateMessage(sender, envelope.RecipientID, envelope.Content, envelope.AuxData)
	if err != nil {
		h.log.Errorf("user %s: storing message: %v", sender, err)
		conn.Send(wire.NewError("failed to store message"))
		return
	}

	if recipient, online := h.registry.Lookup(envelope.RecipientID); online {
		message.Status = model.MessageStatusDelivered
		if err := recipient.Send(wire.NewMessageFrame(message)); err == nil {
			if err := h.store.UpdateMessageStatus(message.ID, model.MessageStatusDelivered); err != nil {
				h.log.Errorf("message %s: recording delivery: %v", message.ID, err)
			}
		} else {
			// Delivery queue failed; the message stays at sent and the
			// recipient picks it up from history on reconnect.
			message.Status = model.MessageStatusSent
		}
	}

	conn.Send(wire.NewMessageConfirmation(message))
}

// relayTyping forwards a typing signal when the recipient is reachable
// and silently drops it otherwise. Typing state is never persisted.
func (h *Hub) relayTyping(conn *Conn, envelope *wire.Envelope) {
	sender, _ := conn.boundUser()

	recipient, online := h.registry.Lookup(envelope.RecipientID)
	if !online {
		return
	}
	recipient.Send(&wire.TypingFrame{
		Type:        wire.TypeTyping,
		SenderID:    sender,
		RecipientID: envelope.RecipientID,
		IsTyping:    envelope.IsTyping,
	})
}

// sendHistory replays the identity's recent conversations after a
// successful handshake. Read-only: replay never advances status.
func (h *Hub) sendHistory(conn *Conn, userID model.UserID) {
	messages, err := h.store.MessagesForParticipant(userID, h.config.Relay.HistoryLimit)
	if err != nil {
		h.log.Errorf("user %s: fetching history: %v", userID, err)
		conn.Send(wire.NewError("failed to fetch message history"))
		return
	}
	conversations := lo.GroupBy(messages, func(message model.Message) model.UserID {
		return message.ConversationKey(userID)
	})
	conn.Send(wire.NewMessageHistory(conversations))
}

func (h *Hub) notifyPresence() {
	select {
	case h.presence <- struct{}{}:
	default:
	}
}

// Roster computes the full user list with the online flag derived from
// current registry membership.
func (h *Hub) Roster() ([]model.RosterEntry, error) {
	users, err := h.store.ListUsers()
	if err != nil {
		return nil, err
	}
	online := h.registry.Snapshot()

	return lo.Map(users, func(user model.User, _ int) model.RosterEntry {
		_, isOnline := online[user.ID]
		return model.RosterEntry{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			IsOnline:    isOnline,
			LastActive:  user.LastActive,
		}
	}), nil
}

// broadcastRoster pushes the full roster to every live connection. Full
// push, not a diff: rosters are small and simplicity wins.
func (h *Hub) broadcastRoster() {
	roster, err := h.Roster()
	if err != nil {
		h.log.Errorf("building roster: %v", err)
		return
	}
	frame := wire.NewUserList(roster)
	for _, conn := range h.registry.Snapshot() {
		conn.Send(frame)
	}
}
