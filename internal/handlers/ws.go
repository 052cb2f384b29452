package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type Relay interface {
	ServeConn(ws *websocket.Conn)
}

// Connect upgrades the HTTP request to a websocket and hands it to the
// relay. The handler blocks for the lifetime of the connection.
func Connect(relay Relay, origins string) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}

	return func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// Upgrade has already written the error response.
			return nil
		}
		relay.ServeConn(ws)
		return nil
	}
}

// originChecker allows everything for "*", otherwise matches the Origin
// header against the configured comma-separated list.
func originChecker(origins string) func(r *http.Request) bool {
	if origins == "*" {
		return func(r *http.Request) bool { return true }
	}
	allowed := strings.Split(origins, ",")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, candidate := range allowed {
			if strings.TrimSpace(candidate) == origin {
				return true
			}
		}
		return false
	}
}
