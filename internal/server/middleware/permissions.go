package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/folio-graph/folio/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Permissions checked by the API routes.
const (
	PermGraphRead  = "graph.read"
	PermGraphWrite = "graph.write"
	PermGraphReset = "graph.reset"
	PermGridWrite  = "grid.write"
	PermArchive    = "archive.read"
)

// Roles a token may carry when it lists no permissions of its own.
const (
	RoleAdmin   = "admin"
	RoleCurator = "curator"
	RoleReader  = "reader"
)

var rolePermissions = map[string][]string{
	RoleAdmin:   {PermGraphRead, PermGraphWrite, PermGraphReset, PermGridWrite, PermArchive},
	RoleCurator: {PermGraphRead, PermGraphWrite, PermGridWrite, PermArchive},
	RoleReader:  {PermGraphRead},
}

// PermissionsForRole returns the default grant of role. Unknown roles read.
func PermissionsForRole(role string) []string {
	if perms, ok := rolePermissions[role]; ok {
		return perms
	}
	return rolePermissions[RoleReader]
}

// Can reports whether u holds at least one of perms.
func (u *AppUser) Can(perms ...string) bool {
	if u == nil {
		return false
	}
	return slices.ContainsFunc(perms, func(p string) bool {
		return slices.Contains(u.Permissions, p)
	})
}

// Require admits requests whose user holds at least one of perms.
func Require(perms ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			if !user.Can(perms...) {
				logger.Debug("[Auth] Permission denied", "user", user.UserID, "role", user.Role, "route", c.Path())
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Missing permission " + strings.Join(perms, " or "),
				})
			}
			return next(c)
		}
	}
}
