package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
)

type RosterSource interface {
	Roster() ([]model.RosterEntry, error)
}

// ListUsers returns the full roster with derived online flags, the same
// view the presence broadcaster pushes over the socket.
func ListUsers(source RosterSource) echo.HandlerFunc {
	return func(c echo.Context) error {
		roster, err := source.Roster()
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, roster)
	}
}
