// Package service holds the saga participants: the booking coordinator
// that owns the booking state machine, and the session lifecycle driver
// that keeps the scheduler's per-session timers in step. Cross-store
// effects travel only over the message bus; there is no transaction that
// spans the booking, inventory and scheduler stores.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarkhas/cinema-booking-saga/internal/logger"
	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
	"github.com/dmarkhas/cinema-booking-saga/internal/repository"
)

// BookingStore is the booking side of the saga.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	Update(ctx context.Context, id, sessionID uint64, status string, placeIDs []uint64) error
	UpdateStatusGuarded(ctx context.Context, id uint64, status string) (int64, error)
	Delete(ctx context.Context, id uint64) error
	CancelCreatedBySession(ctx context.Context, sessionID uint64, beforeCommit func(bookingIDs, placeIDs []uint64) error) (int, error)
}

// InventoryStore is the place-availability side. Reserve is
// all-or-nothing and its row count is the authoritative race-breaker;
// SetAvailable is the idempotent set-based toggle used for releases.
type InventoryStore interface {
	Reserve(ctx context.Context, sessionID uint64, placeIDs []uint64) (int64, error)
	SetAvailable(ctx context.Context, sessionID uint64, placeIDs []uint64, available bool) (int64, error)
	SetSessionAvailable(ctx context.Context, sessionID uint64, available bool) error
	FirstPlaceNotInSession(ctx context.Context, sessionID uint64, placeIDs []uint64) (uint64, bool, error)
	FirstHeldPlace(ctx context.Context, sessionID uint64, placeIDs []uint64) (uint64, bool, error)
}

// SessionStore reads sessions for validation.
type SessionStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Session, error)
}

// MovieStore reads movie reference data; failures surface as
// repository.ErrUpstream and abort before any local write.
type MovieStore interface {
	DurationMin(ctx context.Context, id uint64) (int, error)
}

// BookingService is the saga coordinator: the single author of booking
// status and the only party allowed to ask the inventory to reserve or
// release places. Every entry point commits locally first and then
// publishes exactly one outward message; a crash between the two leaves
// local state correct but may drop the notification (no outbox).
type BookingService struct {
	bookings  BookingStore
	inventory InventoryStore
	sessions  SessionStore
	movies    MovieStore
	pub       queue.Publisher
	now       func() time.Time
}

// NewBookingService wires the coordinator.
func NewBookingService(b BookingStore, inv InventoryStore, s SessionStore, m MovieStore, pub queue.Publisher) *BookingService {
	return &BookingService{
		bookings:  b,
		inventory: inv,
		sessions:  s,
		movies:    m,
		pub:       pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// dedup drops zero and repeated ids, preserving order.
func dedup(ids []uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// validateSession checks that the session accepts bookings: it must be
// available and its end (start + movie duration) must still be in the
// future. Reference-data failures propagate as upstream errors without
// touching local state.
func (s *BookingService) validateSession(ctx context.Context, sessionID uint64) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Available {
		return nil, fmt.Errorf("%w: session %d is not available", ErrValidation, sessionID)
	}
	duration, err := s.movies.DurationMin(ctx, sess.MovieID)
	if err != nil {
		return nil, err
	}
	if !sess.EndsAt(duration).After(s.now()) {
		return nil, fmt.Errorf("%w: session %d already finished", ErrValidation, sessionID)
	}
	return sess, nil
}

// checkPlaces runs the advisory pre-checks: every id must belong to the
// session and currently be free. These give the caller a precise error
// fast; the Reserve row count remains the source of truth for races.
func (s *BookingService) checkPlaces(ctx context.Context, sessionID uint64, placeIDs []uint64) error {
	if id, foreign, err := s.inventory.FirstPlaceNotInSession(ctx, sessionID, placeIDs); err != nil {
		return err
	} else if foreign {
		return fmt.Errorf("%w: place %d", repository.ErrPlaceNotFound, id)
	}
	if id, held, err := s.inventory.FirstHeldPlace(ctx, sessionID, placeIDs); err != nil {
		return err
	} else if held {
		return fmt.Errorf("%w: place %d already held", repository.ErrConflict, id)
	}
	return nil
}

// Create reserves places for a new booking. On a lost race (the atomic
// reserve flipped fewer rows than requested) the just-persisted booking
// is rolled back and the caller gets a conflict.
func (s *BookingService) Create(ctx context.Context, userID, sessionID uint64, placeIDs []uint64, status string) (*model.Booking, error) {
	placeIDs = dedup(placeIDs)
	if len(placeIDs) == 0 {
		return nil, fmt.Errorf("%w: place ids are required", ErrValidation)
	}
	if status == "" {
		status = model.BookingCreated
	}
	if !model.ValidBookingStatus(status) || status == model.BookingCanceled {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	if _, err := s.validateSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := s.checkPlaces(ctx, sessionID, placeIDs); err != nil {
		return nil, err
	}

	b := &model.Booking{UserID: userID, SessionID: sessionID, Status: status, PlaceIDs: placeIDs}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	flipped, err := s.inventory.Reserve(ctx, sessionID, placeIDs)
	if err != nil {
		s.compensateCreate(ctx, b.ID)
		return nil, err
	}
	if flipped != int64(len(placeIDs)) {
		s.compensateCreate(ctx, b.ID)
		return nil, fmt.Errorf("%w: a requested place was reserved concurrently", repository.ErrConflict)
	}
	s.notify(ctx, queue.ActionCreate, b)
	return b, nil
}

// compensateCreate removes a booking whose seat reservation lost the
// race. Failure here is logged, not returned: the booking row without
// flipped places breaks no seat invariant and the next reclaim sweep of
// the session will cancel it.
func (s *BookingService) compensateCreate(ctx context.Context, bookingID uint64) {
	if err := s.bookings.Delete(ctx, bookingID); err != nil {
		logger.L().Errorw("failed to roll back booking after lost reserve race", "booking_id", bookingID, "err", err)
	}
}

// Update replaces a booking's session, place set and status. Canceling
// releases the held places and leaves the membership untouched;
// otherwise the symmetric difference is released/reserved and the set
// replaced. A canceled booking is immutable.
func (s *BookingService) Update(ctx context.Context, id, sessionID uint64, placeIDs []uint64, status string) (*model.Booking, error) {
	if !model.ValidBookingStatus(status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BookingCanceled {
		return nil, fmt.Errorf("%w: booking %d is canceled", repository.ErrConflict, id)
	}

	if status == model.BookingCanceled {
		if _, err := s.inventory.SetAvailable(ctx, b.SessionID, b.PlaceIDs, true); err != nil {
			return nil, err
		}
		if err := s.bookings.Update(ctx, id, b.SessionID, status, b.PlaceIDs); err != nil {
			return nil, err
		}
		b.Status = status
		s.notify(ctx, queue.ActionUpdate, b)
		return b, nil
	}

	placeIDs = dedup(placeIDs)
	if len(placeIDs) == 0 {
		return nil, fmt.Errorf("%w: place ids are required", ErrValidation)
	}
	if sessionID != b.SessionID {
		if _, err := s.validateSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	current := make(map[uint64]struct{}, len(b.PlaceIDs))
	for _, pid := range b.PlaceIDs {
		current[pid] = struct{}{}
	}
	requested := make(map[uint64]struct{}, len(placeIDs))
	for _, pid := range placeIDs {
		requested[pid] = struct{}{}
	}
	var added, removed []uint64
	for _, pid := range placeIDs {
		if _, ok := current[pid]; !ok || sessionID != b.SessionID {
			added = append(added, pid)
		}
	}
	for _, pid := range b.PlaceIDs {
		if _, ok := requested[pid]; !ok || sessionID != b.SessionID {
			removed = append(removed, pid)
		}
	}

	if len(added) > 0 {
		if err := s.checkPlaces(ctx, sessionID, added); err != nil {
			return nil, err
		}
		flipped, err := s.inventory.Reserve(ctx, sessionID, added)
		if err != nil {
			return nil, err
		}
		if flipped != int64(len(added)) {
			return nil, fmt.Errorf("%w: a requested place was reserved concurrently", repository.ErrConflict)
		}
	}
	if len(removed) > 0 {
		if _, err := s.inventory.SetAvailable(ctx, b.SessionID, removed, true); err != nil {
			return nil, err
		}
	}
	if err := s.bookings.Update(ctx, id, sessionID, status, placeIDs); err != nil {
		return nil, err
	}
	b.SessionID = sessionID
	b.Status = status
	b.PlaceIDs = placeIDs
	s.notify(ctx, queue.ActionUpdate, b)
	return b, nil
}

// UpdateStatus moves a booking owned by userID to a new status. A
// repeated request for a status the booking already carries is a
// conflict; that guard makes duplicate status-update messages harmless.
func (s *BookingService) UpdateStatus(ctx context.Context, id, userID uint64, status string) (*model.Booking, error) {
	if !model.ValidBookingStatus(status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("%w: booking %d", ErrForbidden, id)
	}
	if b.Status == model.BookingCanceled {
		return nil, fmt.Errorf("%w: booking %d is canceled", repository.ErrConflict, id)
	}
	if b.Status == status {
		return nil, fmt.Errorf("%w: booking %d already has status %s", repository.ErrConflict, id, status)
	}
	n, err := s.bookings.UpdateStatusGuarded(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost a race with an identical update between the read and the
		// guarded write.
		return nil, fmt.Errorf("%w: booking %d already has status %s", repository.ErrConflict, id, status)
	}
	if status == model.BookingCanceled {
		if _, err := s.inventory.SetAvailable(ctx, b.SessionID, b.PlaceIDs, true); err != nil {
			return nil, err
		}
	}
	b.Status = status
	s.notify(ctx, queue.ActionUpdateStatus, b)
	return b, nil
}

// Delete releases the booking's places unconditionally, removes it, and
// emits a deletion notice unless the booking was already canceled (its
// downstream artifacts were cleaned up when it was).
func (s *BookingService) Delete(ctx context.Context, id uint64) error {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.inventory.SetAvailable(ctx, b.SessionID, b.PlaceIDs, true); err != nil {
		return err
	}
	if err := s.bookings.Delete(ctx, id); err != nil {
		return err
	}
	if b.Status != model.BookingCanceled {
		s.notify(ctx, queue.ActionDelete, b)
	}
	return nil
}

// ReclaimBySession cancels every still-unpaid booking of a session and
// asks the inventory, over the bus, to free the union of their places.
// The release publish runs inside the cancel transaction: a failed
// publish rolls the cancellations back and the redelivered check message
// retries the whole step, so a seat release is never silently dropped.
// Redelivery after success selects zero bookings and does nothing.
func (s *BookingService) ReclaimBySession(ctx context.Context, sessionID uint64) error {
	n, err := s.bookings.CancelCreatedBySession(ctx, sessionID, func(bookingIDs, placeIDs []uint64) error {
		env, err := queue.NewEnvelope(queue.ActionUpdate, queue.PlaceAvailabilityUpdate{
			SessionID: sessionID,
			PlaceIDs:  placeIDs,
			Available: true,
		})
		if err != nil {
			return err
		}
		if err := s.pub.Publish(ctx, queue.ExchangeSession, queue.KeyPlaceUpdateAvailable, env); err != nil {
			return fmt.Errorf("publish place release: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n > 0 {
		logger.L().Infow("reclaimed unpaid bookings", "session_id", sessionID, "bookings", n)
	}
	return nil
}

// notify publishes the single outward message of a booking mutation.
// Publication happens after the local commit; failures are logged and
// dropped, the documented delivery gap of this design.
func (s *BookingService) notify(ctx context.Context, action string, b *model.Booking) {
	env, err := queue.NewEnvelope(action, queue.BookingNotice{
		BookingID: b.ID,
		UserID:    b.UserID,
		SessionID: b.SessionID,
		Status:    b.Status,
		PlaceIDs:  b.PlaceIDs,
	})
	if err != nil {
		logger.L().Errorw("failed to build booking notice", "booking_id", b.ID, "err", err)
		return
	}
	if err := s.pub.Publish(ctx, queue.ExchangeReceipt, queue.KeyBookingChanged, env); err != nil {
		logger.L().Errorw("failed to publish booking notice", "booking_id", b.ID, "action", action, "err", err)
	}
}
