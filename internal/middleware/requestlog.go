package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per request and attaches a request-scoped
// logger to the request context for zerolog.Ctx. Bodies and headers are
// never logged, so credentials in them stay out of the logs.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			reqLog := log.With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(req.Context())))

			if err := next(c); err != nil {
				c.Error(err)
			}
			res := c.Response()

			ev := log.Info()
			switch {
			case res.Status >= 500:
				ev = log.Error()
			case res.Status >= 400:
				ev = log.Warn()
			}
			ev.Str("request_id", rid).
				Str("method", req.Method).
				Str("path", c.Path()).
				Str("uri", req.URL.Path).
				Int("status", res.Status).
				Int64("bytes", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("user", currentUserID(c)).
				Msg("request")
			return nil
		}
	}
}
