package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dmarkhas/cinema-booking-saga/internal/middleware"
	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/service"
)

// BookingHandler exposes the booking lifecycle over HTTP.  All methods
// assume JWT authentication has already run: the principal is read from
// the request context and a missing one yields 401.  Seat arithmetic,
// compensation and event publishing live in the service; the handler
// only binds, validates shape and translates errors.
type BookingHandler struct {
	bookings *service.BookingService
}

// NewBookingHandler constructs a BookingHandler. The service must be
// non-nil.
func NewBookingHandler(bookings *service.BookingService) *BookingHandler {
	if bookings == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{bookings: bookings}
}

type bookingRequest struct {
	SessionID uint64   `json:"session_id"`
	PlaceIDs  []uint64 `json:"place_ids"`
	Status    string   `json:"status"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// bookingResponse is the wire shape shared by create and update.
type bookingResponse struct {
	ID        uint64   `json:"id"`
	UserID    uint64   `json:"user_id"`
	SessionID uint64   `json:"session_id"`
	Status    string   `json:"status"`
	PlaceIDs  []uint64 `json:"place_ids"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:        b.ID,
		UserID:    b.UserID,
		SessionID: b.SessionID,
		Status:    b.Status,
		PlaceIDs:  b.PlaceIDs,
		CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: b.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Create handles POST /v1/bookings.  The body carries the session, the
// requested seats and an optional initial status (defaults to CREATED).
// A seat already held by someone else yields 409; the booking row
// created before the failed hold is compensated away by the service.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body bookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SessionID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
	}
	if len(body.PlaceIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "place_ids is required"})
	}
	status := body.Status
	if status == "" {
		status = model.BookingCreated
	}
	b, err := h.bookings.Create(c.Request().Context(), userID, body.SessionID, body.PlaceIDs, status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toBookingResponse(b))
}

// Update handles PUT /v1/bookings/:id, the full edit: seats may be
// added and dropped in one request and the session may change.  Seats
// no longer listed are released, newly listed ones are held all or
// nothing.
func (h *BookingHandler) Update(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body bookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.bookings.Update(c.Request().Context(), id, body.SessionID, body.PlaceIDs, body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// UpdateStatus handles PATCH /v1/bookings/:id/status.  Only the owner
// may move the status; a repeated transition to the current status or
// any transition out of CANCELED yields 409.  A transition to CANCELED
// releases every held seat.
func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body statusRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if !model.ValidBookingStatus(body.Status) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	b, err := h.bookings.UpdateStatus(c.Request().Context(), id, userID, body.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// Delete handles DELETE /v1/bookings/:id.  Held seats are released
// before the row disappears, whatever state the booking was in.
func (h *BookingHandler) Delete(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	if err := h.bookings.Delete(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
