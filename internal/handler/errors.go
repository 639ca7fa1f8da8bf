// Package handler contains the thin HTTP layer: request binding,
// principal extraction and the mapping of service errors onto statuses.
// All business rules live in the service package.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmarkhas/cinema-booking-saga/internal/repository"
	"github.com/dmarkhas/cinema-booking-saga/internal/scheduler"
	"github.com/dmarkhas/cinema-booking-saga/internal/service"
)

// respondError maps the service/repository error taxonomy onto HTTP
// statuses: validation 400, forbidden 403, not-found 404, conflict 409,
// upstream outage 503, scheduler failure and everything else 500.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrMovieNotFound),
		errors.Is(err, repository.ErrPlaceNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrUpstream):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "upstream dependency unavailable"})
	case errors.Is(err, scheduler.ErrScheduler):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "scheduling failed"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
