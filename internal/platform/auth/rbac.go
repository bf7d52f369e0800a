package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has any of the required roles.
// Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == "admin" {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether role is present in roles, treating "admin" as a
// superset of every role. Used by the scan validator where a denial must be
// audited rather than short-circuited by middleware.
func HasRole(roles []string, role string) bool {
	if role == "" {
		return true
	}
	for _, has := range roles {
		if has == role || has == "admin" {
			return true
		}
	}
	return false
}
