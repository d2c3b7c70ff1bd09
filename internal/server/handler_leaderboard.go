package server

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// leaderboardHandler is public: it only ever serves rows from users who
// opted in, so it carries no auth requirement (spec §4.8).
func (s *Server) leaderboardHandler(c *echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.store.Leaderboard().Top(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, entries)
}
