package handlers

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING AND METRICS
// ══════════════════════════════════════════════════════════════════════════════

// RequestObserver receives one call per served request.
type RequestObserver interface {
	ObserveHTTP(method, route string, statusCode int, d time.Duration)
}

// RequestLogger logs every request and reports it to obs, which may be nil.
// Handler errors are rendered here so the logged status is the final one.
func RequestLogger(logger *slog.Logger, obs RequestObserver) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if obs != nil {
				obs.ObserveHTTP(req.Method, route, res.Status, elapsed)
			}

			level := slog.LevelInfo
			if res.Status >= 500 {
				level = slog.LevelError
			}
			logger.Log(req.Context(), level, "http request",
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"route", route,
				"uri", req.RequestURI,
				"status", res.Status,
				"duration_ms", elapsed.Milliseconds(),
				"remote_ip", c.RealIP(),
				"response_size", res.Size,
			)
			return nil
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HEADERS
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeaders adds security-related headers for a JSON API.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			return next(c)
		}
	}
}

// NoCache prevents caching of identity and reputation responses.
func NoCache() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			h.Set("Pragma", "no-cache")
			return next(c)
		}
	}
}
