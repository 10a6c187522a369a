package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const (
	HeaderSourceService = "X-Source-Service"
	ctxSourceService    = "source_service"
)

// SourceServiceFromCtx returns the calling service set by SourceServiceMiddleware.
func SourceServiceFromCtx(c echo.Context) (string, bool) {
	s, ok := c.Get(ctxSourceService).(string)
	return s, ok && s != ""
}

// SourceServiceMiddleware identifies the calling lab service from the
// X-Source-Service header. An empty allow-list accepts any non-empty name.
func SourceServiceMiddleware(allowed []string) echo.MiddlewareFunc {
	allow := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allow[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			src := strings.ToLower(strings.TrimSpace(c.Request().Header.Get(HeaderSourceService)))
			if src == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing source service"})
			}
			if len(allow) > 0 {
				if _, ok := allow[src]; !ok {
					return c.JSON(http.StatusForbidden, map[string]string{"error": "unknown source service"})
				}
			}
			c.Set(ctxSourceService, src)
			return next(c)
		}
	}
}
