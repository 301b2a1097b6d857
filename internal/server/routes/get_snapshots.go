package routes

import (
	"net/http"
	"strconv"

	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/internal/storage"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/store"

	"github.com/labstack/echo/v4"
)

func queryLimit(c echo.Context, def int) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		return def
	}
	return limit
}

// ListSnapshotsHandler lists archived snapshots, newest first. Download
// links are included when the bucket has a public endpoint.
func ListSnapshotsHandler(c echo.Context) error {
	type snapshot struct {
		store.SnapshotMeta
		DownloadURL string `json:"downloadUrl,omitempty"`
	}
	type snapshotsResponse struct {
		Message   string     `json:"message,omitempty"`
		Snapshots []snapshot `json:"snapshots"`
	}

	app := c.(*middleware.AppContext).App
	if app.Snapshots == nil {
		return c.JSON(http.StatusServiceUnavailable, snapshotsResponse{
			Message:   "Snapshot archive is not configured",
			Snapshots: []snapshot{},
		})
	}

	ctx := c.Request().Context()
	metas, err := app.Snapshots.ListSnapshots(ctx, queryLimit(c, 20))
	if err != nil {
		logger.Error("[Server] Failed to list snapshots", "err", err)
		return c.JSON(http.StatusInternalServerError, snapshotsResponse{
			Message:   "Internal server error",
			Snapshots: []snapshot{},
		})
	}

	out := make([]snapshot, 0, len(metas))
	for _, m := range metas {
		s := snapshot{SnapshotMeta: m}
		if app.S3 != nil {
			if link, err := storage.GenerateDownloadLink(ctx, app.S3, m.ObjectKey); err == nil {
				s.DownloadURL = link
			}
		}
		out = append(out, s)
	}
	return c.JSON(http.StatusOK, snapshotsResponse{Snapshots: out})
}

// SearchArchiveHandler finds nodes in archived snapshots by label.
func SearchArchiveHandler(c echo.Context) error {
	type archiveResponse struct {
		Message string               `json:"message,omitempty"`
		Nodes   []store.ArchivedNode `json:"nodes"`
	}

	label := c.QueryParam("label")
	if label == "" {
		return c.JSON(http.StatusBadRequest, archiveResponse{Message: "label is required", Nodes: []store.ArchivedNode{}})
	}

	app := c.(*middleware.AppContext).App
	if app.Snapshots == nil {
		return c.JSON(http.StatusServiceUnavailable, archiveResponse{
			Message: "Snapshot archive is not configured",
			Nodes:   []store.ArchivedNode{},
		})
	}

	nodes, err := app.Snapshots.FindNodes(c.Request().Context(), label, queryLimit(c, 20))
	if err != nil {
		logger.Error("[Server] Failed to search archive", "err", err)
		return c.JSON(http.StatusInternalServerError, archiveResponse{Message: "Internal server error", Nodes: []store.ArchivedNode{}})
	}
	if nodes == nil {
		nodes = []store.ArchivedNode{}
	}
	return c.JSON(http.StatusOK, archiveResponse{Nodes: nodes})
}
