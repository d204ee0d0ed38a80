package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireAPIKey guards a route group behind a shared key. Requests carry it
// in the X-API-Key header; the api_key query parameter is accepted as a
// fallback for clients that cannot set headers. An empty configured key
// disables the check, which is how local development runs.
func RequireAPIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if key == "" {
			return next
		}
		return func(c echo.Context) error {
			got := clientKey(c)
			if got == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "API key required",
				})
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "API key not recognized",
				})
			}
			return next(c)
		}
	}
}

// clientKey extracts the key a request carries, header first.
func clientKey(c echo.Context) string {
	if k := c.Request().Header.Get("X-API-Key"); k != "" {
		return k
	}
	return c.QueryParam("api_key")
}
