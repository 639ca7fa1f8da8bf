package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarkhas/cinema-booking-saga/internal/logger"
	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
)

// SessionWriteStore mutates sessions.
type SessionWriteStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id uint64) (*model.Session, error)
	Update(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, id uint64) error
}

// PlaceWriteStore creates a session's seat grid.
type PlaceWriteStore interface {
	CreateBulk(ctx context.Context, places []model.Place) error
	ListBySession(ctx context.Context, sessionID uint64) ([]model.Place, error)
}

// SessionLayout describes the seat grid created with a session.
type SessionLayout struct {
	Rows       int
	PerRow     int
	PriceCents uint32
}

// SessionService is the session lifecycle driver: every create, start
// time change or delete is mirrored into the scheduler's per-session
// timer jobs by publishing to the task exchange; the scheduler engine is
// never called directly, preserving the choreography's retry semantics.
type SessionService struct {
	sessions    SessionWriteStore
	places      PlaceWriteStore
	inventory   InventoryStore
	movies      MovieStore
	pub         queue.Publisher
	leadMinutes int
	now         func() time.Time
}

// NewSessionService wires the driver. leadMinutes is how long before the
// session start the unpaid-booking check fires.
func NewSessionService(s SessionWriteStore, p PlaceWriteStore, inv InventoryStore, m MovieStore, pub queue.Publisher, leadMinutes int) *SessionService {
	return &SessionService{
		sessions:    s,
		places:      p,
		inventory:   inv,
		movies:      m,
		pub:         pub,
		leadMinutes: leadMinutes,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// fireTimes computes the two per-session trigger moments from the start
// time and the movie duration. The duration lookup is the only upstream
// dependency: its failure aborts the calling operation before any task
// message is published.
func (s *SessionService) fireTimes(ctx context.Context, movieID uint64, startsAt time.Time) (beforeStart, afterFinish time.Time, err error) {
	duration, err := s.movies.DurationMin(ctx, movieID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	beforeStart = startsAt.Add(-time.Duration(s.leadMinutes) * time.Minute)
	afterFinish = startsAt.Add(time.Duration(duration) * time.Minute)
	return beforeStart, afterFinish, nil
}

// publishSessionJobs sends the two task messages that create or replace
// the session's timers.
func (s *SessionService) publishSessionJobs(ctx context.Context, action string, sessionID uint64, beforeStart, afterFinish time.Time) error {
	tasks := []struct {
		key    string
		fireAt time.Time
	}{
		{queue.KeyTaskBeforeStart, beforeStart},
		{queue.KeyTaskDisableByFinished, afterFinish},
	}
	for _, t := range tasks {
		env, err := queue.NewEnvelope(action, queue.SessionTask{
			SessionID:    sessionID,
			FireAtUnixMs: t.fireAt.UnixMilli(),
		})
		if err != nil {
			return err
		}
		if err := s.pub.Publish(ctx, queue.ExchangeTask, t.key, env); err != nil {
			return fmt.Errorf("publish task %s: %w", t.key, err)
		}
	}
	return nil
}

// Create persists a session with its seat grid, then schedules the
// before-start check and the disable-by-finished job. The reference-data
// lookup happens first so an upstream outage leaves no partial state.
func (s *SessionService) Create(ctx context.Context, sess *model.Session, layout SessionLayout) (*model.Session, error) {
	if sess.MovieID == 0 || sess.Hall == "" || sess.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: movie id, hall and start time are required", ErrValidation)
	}
	if !sess.StartsAt.After(s.now()) {
		return nil, fmt.Errorf("%w: start time must be in the future", ErrValidation)
	}
	beforeStart, afterFinish, err := s.fireTimes(ctx, sess.MovieID, sess.StartsAt)
	if err != nil {
		return nil, err
	}
	sess.Available = true
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	if layout.Rows > 0 && layout.PerRow > 0 {
		if err := s.places.CreateBulk(ctx, buildGrid(sess.ID, layout)); err != nil {
			return nil, err
		}
	}
	if err := s.publishSessionJobs(ctx, queue.ActionCreate, sess.ID, beforeStart, afterFinish); err != nil {
		// Local state is committed; the scheduling request is what failed.
		// Surface it so the caller retries the whole operation.
		return nil, err
	}
	return sess, nil
}

// buildGrid produces the seat grid rows A.., numbered 1..perRow.
func buildGrid(sessionID uint64, layout SessionLayout) []model.Place {
	places := make([]model.Place, 0, layout.Rows*layout.PerRow)
	for r := 0; r < layout.Rows; r++ {
		row := rowLabel(r)
		for n := 1; n <= layout.PerRow; n++ {
			places = append(places, model.Place{
				SessionID:  sessionID,
				Row:        row,
				Number:     uint32(n),
				PriceCents: layout.PriceCents,
				Available:  true,
			})
		}
	}
	return places
}

// rowLabel renders 0 -> A, 25 -> Z, 26 -> AA.
func rowLabel(i int) string {
	label := ""
	for {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
		if i < 0 {
			return label
		}
	}
}

// Update rewrites a session. A changed start time (or hall) replaces the
// per-session jobs: the tasks are tagged SESSION_START_UPDATE so the
// scheduler cancels the stale triggers before recreating them.
func (s *SessionService) Update(ctx context.Context, sess *model.Session) (*model.Session, error) {
	old, err := s.sessions.GetByID(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if sess.MovieID == 0 {
		sess.MovieID = old.MovieID
	}
	if sess.Hall == "" {
		sess.Hall = old.Hall
	}
	if sess.StartsAt.IsZero() {
		sess.StartsAt = old.StartsAt
	}
	// Availability is owned by the disable-by-finished job, never by PUT.
	sess.Available = old.Available
	reschedule := !sess.StartsAt.Equal(old.StartsAt) || sess.Hall != old.Hall || sess.MovieID != old.MovieID

	var beforeStart, afterFinish time.Time
	if reschedule {
		beforeStart, afterFinish, err = s.fireTimes(ctx, sess.MovieID, sess.StartsAt)
		if err != nil {
			return nil, err
		}
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	if reschedule {
		if err := s.publishSessionJobs(ctx, queue.ActionSessionStartUpdate, sess.ID, beforeStart, afterFinish); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Delete removes a session and cancels both of its jobs.
func (s *SessionService) Delete(ctx context.Context, id uint64) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	env, err := queue.NewEnvelope(queue.ActionDelete, queue.SessionTask{SessionID: id})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, queue.ExchangeTask, queue.KeyTaskSessionDelete, env); err != nil {
		return fmt.Errorf("publish task %s: %w", queue.KeyTaskSessionDelete, err)
	}
	return nil
}

// DisableFinished flips the session unavailable once it has ended.
// Setting false twice is harmless, so redelivery is safe.
func (s *SessionService) DisableFinished(ctx context.Context, sessionID uint64) error {
	if err := s.inventory.SetSessionAvailable(ctx, sessionID, false); err != nil {
		return err
	}
	logger.L().Infow("session disabled after finish", "session_id", sessionID)
	return nil
}

// ApplyPlaceAvailability performs the set-based availability toggle
// requested over the bus, typically releasing places reclaimed from
// expired bookings. Rows already carrying the value are skipped, so a
// replay changes nothing.
func (s *SessionService) ApplyPlaceAvailability(ctx context.Context, upd queue.PlaceAvailabilityUpdate) error {
	n, err := s.inventory.SetAvailable(ctx, upd.SessionID, upd.PlaceIDs, upd.Available)
	if err != nil {
		return err
	}
	logger.L().Infow("place availability updated", "session_id", upd.SessionID, "requested", len(upd.PlaceIDs), "flipped", n, "available", upd.Available)
	return nil
}

// Places lists the seat grid of a session.
func (s *SessionService) Places(ctx context.Context, sessionID uint64) ([]model.Place, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.places.ListBySession(ctx, sessionID)
}
