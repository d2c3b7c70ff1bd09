package server

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// mapServiceError maps a store/handler/registry-layer error to an HTTP
// error response, exactly mirroring tarsy's pkg/api/errors.go single-
// function translation table, extended with this system's extra sentinels
// (quota/concurrency exhaustion, spec §4.3/§7).
func mapServiceError(err error) *echo.HTTPError {
	var validErr *models.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	switch {
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, models.ErrNotCancellable):
		return echo.NewHTTPError(http.StatusConflict, "job is not cancellable in its current state")
	case errors.Is(err, models.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, models.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "conflict")
	case errors.Is(err, models.ErrQuotaExceeded):
		return echo.NewHTTPError(http.StatusTooManyRequests, "hourly submission quota exceeded")
	case errors.Is(err, models.ErrConcurrencyFull):
		return echo.NewHTTPError(http.StatusTooManyRequests, "concurrency limit reached")
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
