package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.courier/internal/auth"
	"uk.co.dudmesh.courier/internal/boot"
	"uk.co.dudmesh.courier/internal/model"
	"uk.co.dudmesh.courier/internal/store"
	"uk.co.dudmesh.courier/internal/wire"
)

const testSecret = "relay-test-secret"

func testToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		ID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func testConfig(t *testing.T) *boot.Config {
	config := &boot.Config{}
	config.DataDirectory = t.TempDir()
	config.Auth.GraceWindow = 200 * time.Millisecond
	config.Relay.HeartbeatInterval = time.Hour
	config.Relay.SendQueueSize = 64
	config.Relay.HistoryLimit = 100
	return config
}

type testRig struct {
	hub    *Hub
	store  *store.Store
	server *httptest.Server
}

func newTestRig(t *testing.T, config *boot.Config) *testRig {
	t.Helper()

	messageStore, err := store.Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { messageStore.Close() })

	for _, seed := range []struct{ id, name string }{
		{"alice", "Alice"},
		{"bob", "Bob"},
	} {
		require.NoError(t, messageStore.CreateUser(&model.User{
			ID:          model.UserID(seed.id),
			CreatedAt:   time.Now().UTC(),
			DisplayName: seed.name,
		}))
	}

	hub := NewHub(config, messageStore, auth.NewVerifier(testSecret))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeConn(ws)
	}))
	t.Cleanup(server.Close)

	return &testRig{hub: hub, store: messageStore, server: server}
}

type testPeer struct {
	t  *testing.T
	ws *websocket.Conn
}

func (r *testRig) dial(t *testing.T) *testPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &testPeer{t: t, ws: ws}
}

func (r *testRig) dialAuthenticated(t *testing.T, userID string) *testPeer {
	t.Helper()
	peer := r.dial(t)
	peer.send(map[string]string{"type": "auth", "token": testToken(t, userID)})
	peer.waitFor(wire.TypeAuthSuccess)
	return peer
}

func (p *testPeer) send(frame interface{}) {
	p.t.Helper()
	require.NoError(p.t, p.ws.WriteJSON(frame))
}

func (p *testPeer) readFrame() (map[string]json.RawMessage, error) {
	p.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame := map[string]json.RawMessage{}
	require.NoError(p.t, json.Unmarshal(data, &frame))
	return frame, nil
}

func frameType(frame map[string]json.RawMessage) string {
	var tag string
	json.Unmarshal(frame["type"], &tag)
	return tag
}

// waitFor reads frames, discarding unrelated ones (presence pushes can
// interleave with anything), until one of the wanted type arrives.
func (p *testPeer) waitFor(wanted string) map[string]json.RawMessage {
	p.t.Helper()
	for i := 0; i < 20; i++ {
		frame, err := p.readFrame()
		require.NoError(p.t, err, "waiting for %s frame", wanted)
		if frameType(frame) == wanted {
			return frame
		}
	}
	p.t.Fatalf("no %s frame after 20 reads", wanted)
	return nil
}

func (p *testPeer) expectCloseCode(code int) {
	p.t.Helper()
	for {
		_, err := p.readFrame()
		if err != nil {
			assert.True(p.t, websocket.IsCloseError(err, code), "expected close code %d, got %v", code, err)
			return
		}
	}
}

func (p *testPeer) expectClosed() {
	p.t.Helper()
	for {
		if _, err := p.readFrame(); err != nil {
			return
		}
	}
}

func stringField(frame map[string]json.RawMessage, key string) string {
	var value string
	json.Unmarshal(frame[key], &value)
	return value
}

func TestHandshake(t *testing.T) {
	rig := newTestRig(t, testConfig(t))

	t.Run("Valid token authenticates and hydrates", func(t *testing.T) {
		peer := rig.dial(t)
		peer.send(map[string]string{"type": "auth", "token": testToken(t, "alice")})

		success := peer.waitFor(wire.TypeAuthSuccess)
		var authSuccess wire.AuthSuccess
		raw, _ := json.Marshal(success)
		require.NoError(t, json.Unmarshal(raw, &authSuccess))
		assert.Equal(t, model.UserID("alice"), authSuccess.User.ID)
		assert.Equal(t, "Alice", authSuccess.User.DisplayName)

		peer.waitFor(wire.TypeMessageHistory)
		peer.waitFor(wire.TypeUserList)
	})

	t.Run("Invalid token is rejected", func(t *testing.T) {
		peer := rig.dial(t)
		peer.send(map[string]string{"type": "auth", "token": "garbage"})
		peer.expectCloseCode(wire.CloseAuthFailed)
	})

	t.Run("Missing token is rejected as malformed", func(t *testing.T) {
		peer := rig.dial(t)
		peer.send(map[string]string{"type": "auth"})
		peer.expectCloseCode(wire.CloseAuthFailed)
	})

	t.Run("Unknown identity is rejected", func(t *testing.T) {
		peer := rig.dial(t)
		peer.send(map[string]string{"type": "auth", "token": testToken(t, "mallory")})
		peer.expectCloseCode(wire.CloseUserNotFound)
	})

	t.Run("Traffic before auth is rejected", func(t *testing.T) {
		peer := rig.dial(t)
		peer.send(map[string]string{"type": "message", "recipientId": "bob", "content": "hi"})
		peer.expectCloseCode(wire.CloseUnauthorized)
	})

	t.Run("Silent connection times out", func(t *testing.T) {
		peer := rig.dial(t)
		peer.expectCloseCode(wire.CloseAuthTimeout)
	})
}

func TestMessageDelivery(t *testing.T) {
	rig := newTestRig(t, testConfig(t))

	alice := rig.dialAuthenticated(t, "alice")
	bob := rig.dialAuthenticated(t, "bob")

	t.Run("Online recipient gets the frame, sender gets delivered", func(t *testing.T) {
		alice.send(map[string]string{"type": "message", "recipientId": "bob", "content": "hi", "auxData": "iv0"})

		received := bob.waitFor(wire.TypeMessage)
		assert.Equal(t, "alice", stringField(received, "senderId"))
		assert.Equal(t, "hi", stringField(received, "content"))
		assert.Equal(t, "iv0", stringField(received, "auxData"))
		assert.Equal(t, string(model.MessageStatusDelivered), stringField(received, "status"))

		confirmation := alice.waitFor(wire.TypeMessageConfirmation)
		assert.Equal(t, string(model.MessageStatusDelivered), stringField(confirmation, "status"))
		assert.Equal(t, stringField(received, "messageId"), stringField(confirmation, "messageId"))

		messages, err := rig.store.MessagesForParticipant("bob", 100)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, model.MessageStatusDelivered, messages[0].Status)
	})

	t.Run("Empty content is an error frame, not a drop", func(t *testing.T) {
		alice.send(map[string]string{"type": "message", "recipientId": "bob"})
		errorFrame := alice.waitFor(wire.TypeError)
		assert.Contains(t, stringField(errorFrame, "message"), "content")
	})

	t.Run("Offline recipient leaves the message at sent", func(t *testing.T) {
		bob.ws.Close()
		waitForOffline(t, rig.hub, "bob")

		alice.send(map[string]string{"type": "message", "recipientId": "bob", "content": "while you were out"})
		confirmation := alice.waitFor(wire.TypeMessageConfirmation)
		assert.Equal(t, string(model.MessageStatusSent), stringField(confirmation, "status"))
	})

	t.Run("Reconnecting recipient replays history in order", func(t *testing.T) {
		reconnected := rig.dial(t)
		reconnected.send(map[string]string{"type": "auth", "token": testToken(t, "bob")})
		reconnected.waitFor(wire.TypeAuthSuccess)

		history := reconnected.waitFor(wire.TypeMessageHistory)
		var payload wire.MessageHistory
		raw, _ := json.Marshal(history)
		require.NoError(t, json.Unmarshal(raw, &payload))

		conversation := payload.Conversations["alice"]
		require.Len(t, conversation, 2)
		assert.Equal(t, "hi", conversation[0].Content)
		assert.Equal(t, model.MessageStatusDelivered, conversation[0].Status)
		assert.Equal(t, "while you were out", conversation[1].Content)
		assert.Equal(t, model.MessageStatusSent, conversation[1].Status)
		assert.False(t, conversation[1].CreatedAt.Before(conversation[0].CreatedAt))
	})
}

func TestTypingRelay(t *testing.T) {
	rig := newTestRig(t, testConfig(t))

	alice := rig.dialAuthenticated(t, "alice")
	bob := rig.dialAuthenticated(t, "bob")

	t.Run("Forwarded when recipient is online", func(t *testing.T) {
		alice.send(map[string]interface{}{"type": "typing", "recipientId": "bob", "isTyping": true})

		typing := bob.waitFor(wire.TypeTyping)
		assert.Equal(t, "alice", stringField(typing, "senderId"))

		var isTyping bool
		json.Unmarshal(typing["isTyping"], &isTyping)
		assert.True(t, isTyping)
	})

	t.Run("Dropped silently when recipient is offline", func(t *testing.T) {
		bob.ws.Close()
		waitForOffline(t, rig.hub, "bob")

		alice.send(map[string]interface{}{"type": "typing", "recipientId": "bob", "isTyping": true})

		// The next thing alice hears must be presence or nothing, never
		// an error about the dropped signal.
		alice.send(map[string]string{"type": "message", "recipientId": "bob", "content": "probe"})
		confirmation := alice.waitFor(wire.TypeMessageConfirmation)
		assert.Equal(t, string(model.MessageStatusSent), stringField(confirmation, "status"))
	})
}

func TestPresence(t *testing.T) {
	rig := newTestRig(t, testConfig(t))

	alice := rig.dialAuthenticated(t, "alice")

	t.Run("Own connect is broadcast", func(t *testing.T) {
		waitForRoster(t, alice, map[model.UserID]bool{"alice": true, "bob": false})
	})

	t.Run("Peer connect is broadcast", func(t *testing.T) {
		rig.dialAuthenticated(t, "bob")
		waitForRoster(t, alice, map[model.UserID]bool{"alice": true, "bob": true})
	})

	t.Run("Peer disconnect is broadcast", func(t *testing.T) {
		bobConn, ok := rig.hub.registry.Lookup("bob")
		require.True(t, ok)
		bobConn.closeNow()
		waitForRoster(t, alice, map[model.UserID]bool{"alice": true, "bob": false})
	})
}

func TestSessionSuperseded(t *testing.T) {
	rig := newTestRig(t, testConfig(t))

	first := rig.dialAuthenticated(t, "alice")
	second := rig.dialAuthenticated(t, "alice")

	t.Run("Old connection is closed", func(t *testing.T) {
		first.expectCloseCode(websocket.CloseNormalClosure)
	})

	t.Run("New connection carries the traffic", func(t *testing.T) {
		bob := rig.dialAuthenticated(t, "bob")
		bob.send(map[string]string{"type": "message", "recipientId": "alice", "content": "to the new session"})

		received := second.waitFor(wire.TypeMessage)
		assert.Equal(t, "to the new session", stringField(received, "content"))
		assert.Equal(t, 2, rig.hub.registry.Len())
	})
}

func TestHeartbeat(t *testing.T) {
	config := testConfig(t)
	config.Relay.HeartbeatInterval = 50 * time.Millisecond
	rig := newTestRig(t, config)

	t.Run("Unresponsive connection is pruned", func(t *testing.T) {
		peer := rig.dialAuthenticated(t, "alice")
		// Swallow pings so the liveness probe goes unanswered.
		peer.ws.SetPingHandler(func(string) error { return nil })

		peer.expectClosed()
		waitForOffline(t, rig.hub, "alice")
	})

	t.Run("Responsive connection survives", func(t *testing.T) {
		peer := rig.dialAuthenticated(t, "bob")
		// Keep reading so the default ping handler answers with pongs.
		go func() {
			for {
				if _, err := peer.readFrame(); err != nil {
					return
				}
			}
		}()

		time.Sleep(300 * time.Millisecond)
		_, online := rig.hub.registry.Lookup("bob")
		assert.True(t, online)
	})
}

func waitForOffline(t *testing.T, hub *Hub, userID model.UserID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, online := hub.registry.Lookup(userID); !online {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s still registered", userID)
}

// waitForRoster reads user_list frames until one matches the wanted
// online flags.
func waitForRoster(t *testing.T, peer *testPeer, wanted map[model.UserID]bool) {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := peer.waitFor(wire.TypeUserList)
		var userList wire.UserList
		raw, _ := json.Marshal(frame)
		require.NoError(t, json.Unmarshal(raw, &userList))

		online := map[model.UserID]bool{}
		for _, entry := range userList.Users {
			online[entry.ID] = entry.IsOnline
		}
		matches := len(online) == len(wanted)
		for userID, isOnline := range wanted {
			if online[userID] != isOnline {
				matches = false
			}
		}
		if matches {
			return
		}
	}
	t.Fatalf("no roster matching %v", wanted)
}
