package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/explorer"

	"github.com/labstack/echo/v4"
)

// GetGraphHandler returns the current snapshot together with the
// foreground state.
func GetGraphHandler(c echo.Context) error {
	type graphResponse struct {
		Nodes             []common.Node  `json:"nodes"`
		Edges             []common.Edge  `json:"edges"`
		State             explorer.State `json:"state"`
		PendingEnrichment int            `json:"pendingEnrichment"`
	}

	app := c.(*middleware.AppContext).App
	snap := app.Explorer.Store().Snapshot()

	pending := 0
	if app.Enricher != nil {
		pending = app.Enricher.Pending()
	}

	return c.JSON(http.StatusOK, graphResponse{
		Nodes:             snap.Nodes,
		Edges:             snap.Edges,
		State:             app.Explorer.State(),
		PendingEnrichment: pending,
	})
}

func GetNodeHandler(c echo.Context) error {
	type nodeResponse struct {
		Node       common.Node   `json:"node"`
		Neighbours []common.Node `json:"neighbours"`
	}

	store := c.(*middleware.AppContext).App.Explorer.Store()
	node, ok := store.Node(c.Param("id"))
	if !ok {
		return writeError(c, common.ErrNotFound)
	}

	return c.JSON(http.StatusOK, nodeResponse{
		Node:       node,
		Neighbours: store.Neighbours(node.ID),
	})
}

// ExportGraphHandler downloads the graph as a document that
// ImportGraphHandler accepts.
func ExportGraphHandler(c echo.Context) error {
	doc := c.(*middleware.AppContext).App.Explorer.Export()

	name := fmt.Sprintf("folio-%s.json", time.Now().UTC().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.JSON(http.StatusOK, doc)
}
