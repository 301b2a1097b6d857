package server

import (
	"net/http"

	"github.com/folio-graph/folio/internal/metrics"
	"github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Default().Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)
	read := middleware.Require(middleware.PermGraphRead)
	write := middleware.Require(middleware.PermGraphWrite)

	// Graph routes
	apiRoutes.GET("/graph", routes.GetGraphHandler, read)
	apiRoutes.DELETE("/graph", routes.ResetGraphHandler, middleware.Require(middleware.PermGraphReset))
	apiRoutes.GET("/graph/export", routes.ExportGraphHandler, read)
	apiRoutes.POST("/graph/import", routes.ImportGraphHandler, write)
	apiRoutes.POST("/graph/search", routes.SearchGraphHandler, write)
	apiRoutes.GET("/graph/nodes/:id", routes.GetNodeHandler, read)
	apiRoutes.POST("/graph/nodes/:id/expand", routes.ExpandNodeHandler, write)
	apiRoutes.POST("/graph/nodes/:id/summary", routes.SummarizeNodeHandler, write)

	// Path routes
	apiRoutes.GET("/path", routes.GetPathHandler, read)
	apiRoutes.POST("/path/toggle", routes.TogglePathHandler, write)
	apiRoutes.POST("/path/select", routes.SelectPathNodeHandler, write)

	// Grid routes
	gridWrite := middleware.Require(middleware.PermGridWrite)
	apiRoutes.GET("/grid", routes.GetGridHandler, read)
	apiRoutes.POST("/grid/seed", routes.SeedGridHandler, gridWrite)
	apiRoutes.POST("/grid/slots/:index/lock", routes.LockSlotHandler, gridWrite)
	apiRoutes.POST("/grid/slots/:index/dismiss", routes.DismissSlotHandler, gridWrite)

	// Archive routes
	archive := middleware.Require(middleware.PermArchive, middleware.PermGraphReset)
	apiRoutes.GET("/snapshots", routes.ListSnapshotsHandler, archive)
	apiRoutes.GET("/snapshots/nodes", routes.SearchArchiveHandler, archive)
}
