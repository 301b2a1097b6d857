package routes

import (
	"net/http"

	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/explorer"
	"github.com/folio-graph/folio/pkg/graph"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

type batchResponse struct {
	Message    string         `json:"message"`
	PrimaryID  string         `json:"primaryId,omitempty"`
	NewIDs     []string       `json:"newIds"`
	NewEdgeIDs []string       `json:"newEdgeIds"`
	State      explorer.State `json:"state"`
}

func newBatchResponse(e *explorer.Explorer, res graph.BatchResult) batchResponse {
	state := e.State()
	newIDs := res.NewIDs
	if newIDs == nil {
		newIDs = []string{}
	}
	newEdgeIDs := res.NewEdgeIDs
	if newEdgeIDs == nil {
		newEdgeIDs = []string{}
	}
	return batchResponse{
		Message:    state.Status,
		PrimaryID:  res.PrimaryID,
		NewIDs:     newIDs,
		NewEdgeIDs: newEdgeIDs,
		State:      state,
	}
}

func SearchGraphHandler(c echo.Context) error {
	type searchBody struct {
		Query string `json:"query" validate:"required"`
	}

	data := new(searchBody)
	if err := c.Bind(data); err != nil {
		return invalidBody(c)
	}
	if err := c.Validate(data); err != nil {
		return invalidBody(c)
	}

	e := c.(*middleware.AppContext).App.Explorer
	res, err := e.Search(c.Request().Context(), data.Query)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newBatchResponse(e, res))
}

func ExpandNodeHandler(c echo.Context) error {
	e := c.(*middleware.AppContext).App.Explorer
	res, err := e.Expand(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newBatchResponse(e, res))
}

func SummarizeNodeHandler(c echo.Context) error {
	type summaryResponse struct {
		Message string         `json:"message,omitempty"`
		Summary common.Summary `json:"summary"`
	}

	e := c.(*middleware.AppContext).App.Explorer
	summary, err := e.Summarize(c.Request().Context(), c.Param("id"))
	if err != nil {
		// the failed summary is stored on the node, report it anyway
		if summary.State == common.SummaryFailed {
			return c.JSON(http.StatusBadGateway, summaryResponse{
				Message: common.Caption(err),
				Summary: summary,
			})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, summaryResponse{Summary: summary})
}

func ImportGraphHandler(c echo.Context) error {
	doc, err := graph.ParseDocument(c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}

	e := c.(*middleware.AppContext).App.Explorer
	res, err := e.Import(doc)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newBatchResponse(e, res))
}
