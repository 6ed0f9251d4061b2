package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/nammalwarsai/skill3-cie/internal/model"
)

const principalKey = "principal"

// PrincipalFrom returns the principal stored by JWTAuth.
func PrincipalFrom(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(principalKey).(model.Principal)
	if !ok || p.Username == "" {
		return model.Principal{}, false
	}
	return p, true
}

// currentUserID names the caller for rate-limit keys; "anon" before login.
func currentUserID(c echo.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return p.Username
	}
	return "anon"
}
