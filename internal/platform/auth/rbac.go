package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks the user has one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRole := RoleFromContext(c.Request().Context())
			if HasRole(userRole, roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether role is one of allowed.
func HasRole(role string, allowed ...string) bool {
	if role == "" {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
