package routes

import (
	"net/http"

	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/pkg/pathfind"

	"github.com/labstack/echo/v4"
)

// ResetGraphHandler empties the graph. Queries still running are discarded
// when they return.
func ResetGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	app.Explorer.Reset()
	if app.Finder.State().State != pathfind.StateInactive {
		app.Finder.Toggle()
	}
	return c.JSON(http.StatusOK, errorResponse{Message: "Graph reset"})
}
