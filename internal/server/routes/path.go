package routes

import (
	"net/http"

	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/pkg/pathfind"

	"github.com/labstack/echo/v4"
)

type pathResponse struct {
	Message  string            `json:"message,omitempty"`
	Accepted bool              `json:"accepted"`
	Path     pathfind.Snapshot `json:"path"`
}

func GetPathHandler(c echo.Context) error {
	finder := c.(*middleware.AppContext).App.Finder
	return c.JSON(http.StatusOK, pathResponse{Accepted: true, Path: finder.State()})
}

// TogglePathHandler switches path mode on or off.
func TogglePathHandler(c echo.Context) error {
	finder := c.(*middleware.AppContext).App.Finder
	return c.JSON(http.StatusOK, pathResponse{Accepted: true, Path: finder.Toggle()})
}

// SelectPathNodeHandler selects the start or end node. The query runs in the
// background once both are chosen; poll GetPathHandler for the result.
func SelectPathNodeHandler(c echo.Context) error {
	type selectBody struct {
		NodeID string `json:"nodeId" validate:"required"`
	}

	data := new(selectBody)
	if err := c.Bind(data); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(data); err != nil {
		return invalidBody(c)
	}

	finder := c.(*middleware.AppContext).App.Finder
	accepted := finder.Click(data.NodeID)
	res := pathResponse{Accepted: accepted, Path: finder.State()}
	if !accepted {
		res.Message = "Selection ignored"
	}
	return c.JSON(http.StatusOK, res)
}
