package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication: health checks
// and the endpoints a user calls before holding a session.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
	"/api/auth/logout":   true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
// Pass it as the Skipper on JWTConfig.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
