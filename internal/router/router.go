// Package router mounts the HTTP surface. Write endpoints sit behind
// JWT auth and the Redis rate limiter; the seat map and the health
// check stay public.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dmarkhas/cinema-booking-saga/internal/config"
	"github.com/dmarkhas/cinema-booking-saga/internal/handler"
	"github.com/dmarkhas/cinema-booking-saga/internal/middleware"
)

// Register mounts every route on e. rdb may be nil, in which case the
// rate limiter passes everything through.
func Register(e *echo.Echo, db *sql.DB, bookings *handler.BookingHandler, sessions *handler.SessionHandler, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/v1/sessions/:id/places", sessions.Places)

	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RateLimit(rlCfg, rdb),
	)

	g.POST("/bookings", bookings.Create)
	g.PUT("/bookings/:id", bookings.Update)
	g.PATCH("/bookings/:id/status", bookings.UpdateStatus)
	g.DELETE("/bookings/:id", bookings.Delete)

	g.POST("/sessions", sessions.Create)
	g.PUT("/sessions/:id", sessions.Update)
	g.DELETE("/sessions/:id", sessions.Delete)
	g.PATCH("/sessions/:id/places/availability", sessions.UpdatePlaceAvailability)
}
