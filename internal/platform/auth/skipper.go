package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are reachable without credentials: probes, metrics and the
// capability statement.
var publicPaths = map[string]bool{
	"/health":        true,
	"/health/db":     true,
	"/metrics":       true,
	"/fhir":          true,
	"/fhir/metadata": true,
}

// Skipper reports whether the matched route is public.
func Skipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
