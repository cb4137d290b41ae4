// Package middleware provides HTTP middleware for the mail engine API.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/validator"
)

// UserIDHeader names the header carrying the caller's user id. Accounts
// are always looked up within that user's scope.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// APIKeyAuth validates API key from Authorization header.
// Uses constant-time comparison to prevent timing attacks.
func APIKeyAuth(apiKey string, logger *slog.Logger) echo.MiddlewareFunc {
	if apiKey == "" && logger != nil {
		logger.Warn("API_KEY not set - API is UNSECURED")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()

			// Skip auth for health endpoints
			if strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/ready") {
				return next(c)
			}

			// Skip if API_KEY not configured (development mode)
			if apiKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				if logger != nil {
					logger.Warn("missing authorization header",
						slog.String("ip", c.RealIP()),
						slog.String("path", path))
				}
				return echo.NewHTTPError(401, map[string]string{
					"error": "missing authorization header",
					"code":  "UNAUTHORIZED",
				})
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				if logger != nil {
					logger.Warn("invalid API key attempt",
						slog.String("ip", c.RealIP()),
						slog.String("path", path))
				}
				return echo.NewHTTPError(401, map[string]string{
					"error": "invalid API key",
					"code":  "UNAUTHORIZED",
				})
			}

			return next(c)
		}
	}
}

// RequireUser rejects requests without a usable X-User-ID header and
// stores the id for handlers.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := strings.TrimSpace(c.Request().Header.Get(UserIDHeader))
			if userID == "" || validator.ValidateHeaderValue(userID, 255) != nil {
				return echo.NewHTTPError(401, map[string]string{
					"error": "missing or invalid " + UserIDHeader + " header",
					"code":  "UNAUTHORIZED",
				})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
