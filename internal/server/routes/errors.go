package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/explorer"
	"github.com/folio-graph/folio/pkg/logger"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Message string `json:"message"`
}

// writeError maps domain errors onto HTTP statuses. Upstream failures are
// reported as 502 with the same caption the status line shows.
func writeError(c echo.Context, err error) error {
	var ve *common.ValidationError
	var rl *common.RateLimitError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Message: ve.Error()})
	case errors.As(err, &rl):
		seconds := int(rl.RetryAfter.Seconds()) + 1
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
		return c.JSON(http.StatusTooManyRequests, errorResponse{Message: common.Caption(err)})
	case errors.Is(err, common.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Not found"})
	case errors.Is(err, explorer.ErrSuperseded):
		return c.JSON(http.StatusConflict, errorResponse{Message: "Superseded by a newer query"})
	default:
		logger.Warn("[Server] Request failed", "path", c.Path(), "err", err)
		return c.JSON(http.StatusBadGateway, errorResponse{Message: common.Caption(err)})
	}
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
}
