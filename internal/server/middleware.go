package server

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/auth"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

const (
	contextKeyUserID = "user_id"
	contextKeyRole   = "role"
)

// securityHeaders sets standard defensive response headers, following the
// same factory shape as tarsy's pkg/api/middleware.go securityHeaders.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requireAuth validates the bearer access token on every request and stores
// the authenticated user id/role on the echo context for handlers to read.
func requireAuth(jwtSvc *auth.JWTService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			token := strings.TrimSpace(header[len(prefix):])
			userID, role, err := jwtSvc.Validate(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			c.Set(contextKeyUserID, userID)
			c.Set(contextKeyRole, role)
			return next(c)
		}
	}
}

// requireAdmin must run after requireAuth; it rejects any non-admin caller.
func requireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if roleFromContext(c) != models.RoleAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "admin role required")
			}
			return next(c)
		}
	}
}

func userIDFromContext(c *echo.Context) string {
	id, _ := c.Get(contextKeyUserID).(string)
	return id
}

func roleFromContext(c *echo.Context) models.UserRole {
	role, _ := c.Get(contextKeyRole).(models.UserRole)
	return role
}
