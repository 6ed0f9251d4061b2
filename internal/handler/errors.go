package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nammalwarsai/skill3-cie/internal/gateway"
)

// statusFor maps a gateway failure to its HTTP status and the message shown
// to the client. Only validation messages carry detail; every other kind
// uses its fixed text so store errors never reach the response.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, gateway.ErrFileTooLarge.Error()
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, gateway.ErrInvalidCredentials):
		return http.StatusUnauthorized, gateway.ErrInvalidCredentials.Error()
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusForbidden, gateway.ErrUnauthorized.Error()
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, gateway.ErrNotFound.Error()
	case errors.Is(err, gateway.ErrDuplicateUser):
		return http.StatusConflict, gateway.ErrDuplicateUser.Error()
	case errors.Is(err, gateway.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, gateway.ErrStoreUnavailable.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func respondError(c echo.Context, err error) error {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
