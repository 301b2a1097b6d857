package routes

import (
	"net/http"
	"strconv"

	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/grid"

	"github.com/labstack/echo/v4"
)

type gridResponse struct {
	Message string     `json:"message,omitempty"`
	Grid    grid.State `json:"grid"`
}

func GetGridHandler(c echo.Context) error {
	engine := c.(*middleware.AppContext).App.Grid
	return c.JSON(http.StatusOK, gridResponse{Grid: engine.State()})
}

func SeedGridHandler(c echo.Context) error {
	type seedBody struct {
		Query string `json:"query" validate:"required"`
	}

	data := new(seedBody)
	if err := c.Bind(data); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(data); err != nil {
		return invalidBody(c)
	}

	engine := c.(*middleware.AppContext).App.Grid
	state, err := engine.Seed(c.Request().Context(), data.Query)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, gridResponse{Message: state.Status, Grid: state})
}

func LockSlotHandler(c echo.Context) error {
	return slotAction(c, (*grid.Engine).Lock)
}

func DismissSlotHandler(c echo.Context) error {
	return slotAction(c, (*grid.Engine).Dismiss)
}

func slotAction(c echo.Context, action func(*grid.Engine, int) (grid.State, error)) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return writeError(c, common.NewValidationError("index", "must be a number"))
	}

	engine := c.(*middleware.AppContext).App.Grid
	state, err := action(engine, index)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, gridResponse{Grid: state})
}
