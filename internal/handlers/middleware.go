package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
)

const userContextKey = "courier.userID"

type TokenVerifier interface {
	VerifyToken(token string) (model.UserID, error)
}

// BearerAuth gates the REST surface behind the same opaque bearer token
// the websocket handshake verifies.
func BearerAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			userID, err := verifier.VerifyToken(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(userContextKey, userID)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) (model.UserID, bool) {
	userID, ok := c.Get(userContextKey).(model.UserID)
	return userID, ok
}
