package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmarkhas/cinema-booking-saga/internal/middleware"
	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
	"github.com/dmarkhas/cinema-booking-saga/internal/service"
)

// SessionHandler exposes session lifecycle operations.  Creating,
// moving or deleting a session also reschedules the per-session timer
// jobs, but that happens inside the service via the task exchange; the
// handler never talks to the scheduler.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler constructs a SessionHandler. The service must be
// non-nil.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	if sessions == nil {
		panic("nil service passed to NewSessionHandler")
	}
	return &SessionHandler{sessions: sessions}
}

type sessionRequest struct {
	MovieID  uint64 `json:"movie_id"`
	Hall     string `json:"hall"`
	StartsAt string `json:"starts_at"` // RFC 3339
	Layout   struct {
		Rows       int    `json:"rows"`
		PerRow     int    `json:"per_row"`
		PriceCents uint32 `json:"price_cents"`
	} `json:"layout"`
}

type sessionResponse struct {
	ID        uint64 `json:"id"`
	MovieID   uint64 `json:"movie_id"`
	Hall      string `json:"hall"`
	StartsAt  string `json:"starts_at"`
	Available bool   `json:"available"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		MovieID:   s.MovieID,
		Hall:      s.Hall,
		StartsAt:  s.StartsAt.Format(time.RFC3339),
		Available: s.Available,
	}
}

// Create handles POST /v1/sessions.  The body carries the movie, hall,
// RFC 3339 start time and the seat grid layout.  On success the seat
// grid exists and both timer jobs for the session are on their way
// through the task exchange.
func (h *SessionHandler) Create(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	startsAt, err := time.Parse(time.RFC3339, body.StartsAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at must be RFC 3339"})
	}
	sess := &model.Session{
		MovieID:   body.MovieID,
		Hall:      body.Hall,
		StartsAt:  startsAt.UTC(),
		Available: true,
	}
	layout := service.SessionLayout{
		Rows:       body.Layout.Rows,
		PerRow:     body.Layout.PerRow,
		PriceCents: body.Layout.PriceCents,
	}
	created, err := h.sessions.Create(c.Request().Context(), sess, layout)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(created))
}

// Update handles PUT /v1/sessions/:id.  Zero-valued fields keep their
// stored values; a changed start time, hall or movie reschedules both
// timer jobs under the same job names.
func (h *SessionHandler) Update(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	var body sessionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	sess := &model.Session{ID: id, MovieID: body.MovieID, Hall: body.Hall}
	if body.StartsAt != "" {
		startsAt, err := time.Parse(time.RFC3339, body.StartsAt)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at must be RFC 3339"})
		}
		sess.StartsAt = startsAt.UTC()
	}
	updated, err := h.sessions.Update(c.Request().Context(), sess)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(updated))
}

// Delete handles DELETE /v1/sessions/:id.  The seat grid goes with the
// session; the scheduler drops both timer jobs once the delete task
// message arrives.
func (h *SessionHandler) Delete(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	if err := h.sessions.Delete(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type placeResponse struct {
	ID         uint64 `json:"id"`
	Row        string `json:"row"`
	Number     uint32 `json:"number"`
	PriceCents uint32 `json:"price_cents"`
	Available  bool   `json:"available"`
}

// Places handles GET /v1/sessions/:id/places, the public seat map.
func (h *SessionHandler) Places(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	places, err := h.sessions.Places(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]placeResponse, 0, len(places))
	for _, p := range places {
		out = append(out, placeResponse{
			ID:         p.ID,
			Row:        p.Row,
			Number:     p.Number,
			PriceCents: p.PriceCents,
			Available:  p.Available,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": id, "places": out})
}

type availabilityRequest struct {
	PlaceIDs  []uint64 `json:"place_ids"`
	Available *bool    `json:"available"`
}

// UpdatePlaceAvailability handles PATCH /v1/sessions/:id/places/availability,
// the administrative seat toggle.  It reuses the same idempotent flip
// the release consumer applies, so a repeated request is harmless.
func (h *SessionHandler) UpdatePlaceAvailability(c echo.Context) error {
	if _, ok := middleware.UserID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	var body availabilityRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.PlaceIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "place_ids is required"})
	}
	if body.Available == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "available is required"})
	}
	upd := queue.PlaceAvailabilityUpdate{
		SessionID: id,
		PlaceIDs:  body.PlaceIDs,
		Available: *body.Available,
	}
	if err := h.sessions.ApplyPlaceAvailability(c.Request().Context(), upd); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": id, "place_ids": body.PlaceIDs, "available": *body.Available})
}
