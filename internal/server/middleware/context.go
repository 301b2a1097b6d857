package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"

	"github.com/folio-graph/folio/pkg/enrich"
	"github.com/folio-graph/folio/pkg/explorer"
	"github.com/folio-graph/folio/pkg/grid"
	"github.com/folio-graph/folio/pkg/pathfind"
	"github.com/folio-graph/folio/pkg/store"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// App carries the long-lived components every handler works with. The
// archive fields are nil when no database or bucket is configured.
type App struct {
	Explorer *explorer.Explorer
	Grid     *grid.Engine
	Finder   *pathfind.Finder
	Enricher *enrich.Scheduler

	Snapshots store.SnapshotStorage
	S3        *s3.Client

	// Key verifies bearer tokens. Nil together with an empty APIKey
	// disables authentication.
	Key    *keyfunc.Keyfunc
	APIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
