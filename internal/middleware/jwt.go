package middleware // middleware holds the reusable echo middleware of the API

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nammalwarsai/skill3-cie/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the authenticated principal into the request context. Handlers can
// read it with PrincipalFrom, or the raw claims via c.Get("user_id") and
// c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			p, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set("user_id", p.Username)
			c.Set("role", p.Role)
			c.Set(principalKey, p)
			return next(c)
		}
	}
}
