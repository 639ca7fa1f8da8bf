package handler

import (
	"database/sql"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health returns a health-check handler for load balancers and
// monitoring.  It pings the database with the request's context; a
// failed ping downgrades the response to 503 so the instance is pulled
// from rotation before requests start failing mid-transaction.
func Health(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		if db != nil {
			if err := db.PingContext(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
