package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestPermissionsForRole(t *testing.T) {
	tests := []struct {
		role string
		can  []string
		not  []string
	}{
		{role: RoleAdmin, can: []string{PermGraphReset, PermArchive, PermGridWrite}},
		{role: RoleCurator, can: []string{PermGraphWrite, PermGridWrite, PermArchive}, not: []string{PermGraphReset}},
		{role: RoleReader, can: []string{PermGraphRead}, not: []string{PermGraphWrite, PermArchive}},
		{role: "guest", can: []string{PermGraphRead}, not: []string{PermGridWrite}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			u := &AppUser{Role: tt.role, Permissions: PermissionsForRole(tt.role)}
			for _, p := range tt.can {
				assert.True(t, u.Can(p), p)
			}
			for _, p := range tt.not {
				assert.False(t, u.Can(p), p)
			}
		})
	}

	var nobody *AppUser
	assert.False(t, nobody.Can(PermGraphRead))
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name string
		user *AppUser
		want int
	}{
		{name: "anonymous", user: nil, want: http.StatusUnauthorized},
		{name: "reader", user: &AppUser{UserID: "r", Permissions: PermissionsForRole(RoleReader)}, want: http.StatusForbidden},
		{name: "archive reader", user: &AppUser{UserID: "a", Permissions: []string{PermArchive}}, want: http.StatusOK},
		{name: "admin", user: &AppUser{UserID: "x", Permissions: PermissionsForRole(RoleAdmin)}, want: http.StatusOK},
	}

	handler := Require(PermArchive, PermGraphReset)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/snapshots", nil), rec)
			err := handler(&AppContext{Context: c, App: &App{}, User: tt.user})
			assert.NoError(t, err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
