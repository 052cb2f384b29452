package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"uk.co.dudmesh.courier/internal/model"
)

type MessageSource interface {
	MessagesForParticipant(id model.UserID, limit int) ([]model.Message, error)
}

// MessageHistory returns the caller's recent conversations grouped by
// counterpart, the same shape the socket pushes after authentication.
func MessageHistory(source MessageSource, limit int) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := currentUser(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
		}

		messages, err := source.MessagesForParticipant(userID, limit)
		if err != nil {
			return err
		}

		conversations := lo.GroupBy(messages, func(message model.Message) model.UserID {
			return message.ConversationKey(userID)
		})
		return c.JSON(http.StatusOK, conversations)
	}
}
