package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
	"github.com/dmarkhas/cinema-booking-saga/internal/repository"
	"github.com/dmarkhas/cinema-booking-saga/internal/service"
)

// ---- fakes ----

type fakePlace struct {
	session   uint64
	available bool
}

type fakeInventory struct {
	places          map[uint64]*fakePlace
	sessionDisabled []uint64
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{places: make(map[uint64]*fakePlace)}
}

func (f *fakeInventory) add(id, sessionID uint64, available bool) {
	f.places[id] = &fakePlace{session: sessionID, available: available}
}

// Reserve mirrors the SQL semantics: count the rows the conditional
// UPDATE would flip, mutate only when every requested row flips.
func (f *fakeInventory) Reserve(_ context.Context, sessionID uint64, placeIDs []uint64) (int64, error) {
	var flippable []uint64
	for _, id := range placeIDs {
		if p, ok := f.places[id]; ok && p.session == sessionID && p.available {
			flippable = append(flippable, id)
		}
	}
	if len(flippable) != len(placeIDs) {
		return int64(len(flippable)), nil
	}
	for _, id := range flippable {
		f.places[id].available = false
	}
	return int64(len(placeIDs)), nil
}

func (f *fakeInventory) SetAvailable(_ context.Context, sessionID uint64, placeIDs []uint64, available bool) (int64, error) {
	var n int64
	for _, id := range placeIDs {
		if p, ok := f.places[id]; ok && p.session == sessionID && p.available != available {
			p.available = available
			n++
		}
	}
	return n, nil
}

func (f *fakeInventory) SetSessionAvailable(_ context.Context, sessionID uint64, available bool) error {
	if !available {
		f.sessionDisabled = append(f.sessionDisabled, sessionID)
	}
	return nil
}

func (f *fakeInventory) FirstPlaceNotInSession(_ context.Context, sessionID uint64, placeIDs []uint64) (uint64, bool, error) {
	for _, id := range placeIDs {
		if p, ok := f.places[id]; !ok || p.session != sessionID {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeInventory) FirstHeldPlace(_ context.Context, sessionID uint64, placeIDs []uint64) (uint64, bool, error) {
	for _, id := range placeIDs {
		if p, ok := f.places[id]; ok && p.session == sessionID && !p.available {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// racyInventory hides a concurrent hold from the advisory pre-check so
// the atomic reserve is the one that detects the race.
type racyInventory struct {
	*fakeInventory
}

func (r racyInventory) FirstHeldPlace(context.Context, uint64, []uint64) (uint64, bool, error) {
	return 0, false, nil
}

type fakeBookings struct {
	byID   map[uint64]*model.Booking
	nextID uint64
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{byID: make(map[uint64]*model.Booking), nextID: 1}
}

func (f *fakeBookings) Create(_ context.Context, b *model.Booking) error {
	b.ID = f.nextID
	f.nextID++
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	cp.PlaceIDs = append([]uint64(nil), b.PlaceIDs...)
	f.byID[b.ID] = &cp
	return nil
}

func (f *fakeBookings) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	cp.PlaceIDs = append([]uint64(nil), b.PlaceIDs...)
	return &cp, nil
}

func (f *fakeBookings) Update(_ context.Context, id, sessionID uint64, status string, placeIDs []uint64) error {
	b, ok := f.byID[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	b.SessionID = sessionID
	b.Status = status
	b.PlaceIDs = append([]uint64(nil), placeIDs...)
	return nil
}

func (f *fakeBookings) UpdateStatusGuarded(_ context.Context, id uint64, status string) (int64, error) {
	b, ok := f.byID[id]
	if !ok || b.Status == status {
		return 0, nil
	}
	b.Status = status
	return 1, nil
}

func (f *fakeBookings) Delete(_ context.Context, id uint64) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrBookingNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeBookings) CancelCreatedBySession(_ context.Context, sessionID uint64, beforeCommit func(bookingIDs, placeIDs []uint64) error) (int, error) {
	var ids []uint64
	placeSet := make(map[uint64]struct{})
	for _, b := range f.byID {
		if b.SessionID == sessionID && b.Status == model.BookingCreated {
			ids = append(ids, b.ID)
			for _, pid := range b.PlaceIDs {
				placeSet[pid] = struct{}{}
			}
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	places := make([]uint64, 0, len(placeSet))
	for pid := range placeSet {
		places = append(places, pid)
	}
	// A failed publish rolls the whole transaction back.
	if err := beforeCommit(ids, places); err != nil {
		return 0, err
	}
	for _, id := range ids {
		f.byID[id].Status = model.BookingCanceled
	}
	return len(ids), nil
}

type fakeSessions struct {
	byID map[uint64]*model.Session
}

func (f *fakeSessions) GetByID(_ context.Context, id uint64) (*model.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

type fakeMovies struct {
	durations map[uint64]int
	err       error
}

func (f *fakeMovies) DurationMin(_ context.Context, id uint64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	d, ok := f.durations[id]
	if !ok {
		return 0, repository.ErrMovieNotFound
	}
	return d, nil
}

type publishedMsg struct {
	exchange string
	key      string
	env      queue.Envelope
}

type fakePub struct {
	msgs []publishedMsg
	err  error
}

func (f *fakePub) Publish(_ context.Context, exchange, key string, env queue.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, publishedMsg{exchange: exchange, key: key, env: env})
	return nil
}

// ---- fixture ----

type bookingFixture struct {
	svc       *service.BookingService
	bookings  *fakeBookings
	inventory *fakeInventory
	sessions  *fakeSessions
	pub       *fakePub
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	inv := newFakeInventory()
	for id := uint64(1); id <= 5; id++ {
		inv.add(id, 1, true)
	}
	sessions := &fakeSessions{byID: map[uint64]*model.Session{
		1: {ID: 1, MovieID: 10, Available: true, StartsAt: time.Now().UTC().Add(2 * time.Hour)},
	}}
	movies := &fakeMovies{durations: map[uint64]int{10: 120}}
	bookings := newFakeBookings()
	pub := &fakePub{}
	return &bookingFixture{
		svc:       service.NewBookingService(bookings, inv, sessions, movies, pub),
		bookings:  bookings,
		inventory: inv,
		sessions:  sessions,
		pub:       pub,
	}
}

// ---- tests ----

func TestBookingCreate_ReservesAndNotifies(t *testing.T) {
	fx := newBookingFixture(t)

	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2, 3, 3}, "")
	require.NoError(t, err)
	assert.Equal(t, model.BookingCreated, b.Status)
	assert.Equal(t, []uint64{2, 3}, b.PlaceIDs, "duplicates collapse")

	assert.False(t, fx.inventory.places[2].available)
	assert.False(t, fx.inventory.places[3].available)
	assert.True(t, fx.inventory.places[1].available)

	require.Len(t, fx.pub.msgs, 1)
	msg := fx.pub.msgs[0]
	assert.Equal(t, queue.ExchangeReceipt, msg.exchange)
	assert.Equal(t, queue.KeyBookingChanged, msg.key)
	assert.Equal(t, queue.ActionCreate, msg.env.Action)
	assert.NotEmpty(t, msg.env.MessageID)

	var notice queue.BookingNotice
	require.NoError(t, msg.env.Decode(&notice))
	assert.Equal(t, b.ID, notice.BookingID)
	assert.Equal(t, uint64(7), notice.UserID)
}

func TestBookingCreate_HeldPlaceIsConflict(t *testing.T) {
	fx := newBookingFixture(t)
	fx.inventory.places[2].available = false

	_, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2, 3}, "")
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, fx.bookings.byID, "no booking row survives")
	assert.True(t, fx.inventory.places[3].available, "free place untouched")
}

func TestBookingCreate_ForeignPlaceIsNotFound(t *testing.T) {
	fx := newBookingFixture(t)

	_, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2, 99}, "")
	assert.ErrorIs(t, err, repository.ErrPlaceNotFound)
	assert.True(t, fx.inventory.places[2].available)
}

func TestBookingCreate_LostRaceCompensates(t *testing.T) {
	fx := newBookingFixture(t)
	// Another booking grabs place 3 after the advisory check passes.
	fx.inventory.places[3].available = false
	svc := service.NewBookingService(fx.bookings, racyInventory{fx.inventory},
		fx.sessions, &fakeMovies{durations: map[uint64]int{10: 120}}, fx.pub)

	_, err := svc.Create(context.Background(), 7, 1, []uint64{2, 3}, "")
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, fx.bookings.byID, "booking rolled back after short flip")
	assert.True(t, fx.inventory.places[2].available, "all-or-nothing: nothing flipped")
	assert.Empty(t, fx.pub.msgs, "no notice for a failed create")
}

func TestBookingCreate_RejectsCanceledStatusAndBadSession(t *testing.T) {
	fx := newBookingFixture(t)

	_, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, model.BookingCanceled)
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = fx.svc.Create(context.Background(), 7, 42, []uint64{2}, "")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	fx.sessions.byID[1].Available = false
	_, err = fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestBookingCreate_FinishedSessionRejected(t *testing.T) {
	fx := newBookingFixture(t)
	// Started three hours ago, movie runs two hours.
	fx.sessions.byID[1].StartsAt = time.Now().UTC().Add(-3 * time.Hour)

	_, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestBookingCreate_MovieLookupFailureIsUpstream(t *testing.T) {
	fx := newBookingFixture(t)
	movies := &fakeMovies{err: fmt.Errorf("%w: movie lookup: timeout", repository.ErrUpstream)}
	svc := service.NewBookingService(fx.bookings, fx.inventory, fx.sessions, movies, fx.pub)

	_, err := svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	assert.ErrorIs(t, err, repository.ErrUpstream)
	assert.Empty(t, fx.bookings.byID)
	assert.True(t, fx.inventory.places[2].available)
}

func TestBookingUpdate_SymmetricDiff(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2, 3}, "")
	require.NoError(t, err)

	// Keep 3, drop 2, add 4.
	updated, err := fx.svc.Update(context.Background(), b.ID, 1, []uint64{3, 4}, model.BookingCreated)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, updated.PlaceIDs)

	assert.True(t, fx.inventory.places[2].available, "dropped place released")
	assert.False(t, fx.inventory.places[3].available, "kept place stays held")
	assert.False(t, fx.inventory.places[4].available, "added place held")
}

func TestBookingUpdate_AddedPlaceConflictLeavesHoldsIntact(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	require.NoError(t, err)
	fx.inventory.places[4].available = false

	_, err = fx.svc.Update(context.Background(), b.ID, 1, []uint64{2, 4}, model.BookingCreated)
	assert.ErrorIs(t, err, repository.ErrConflict)

	got, err := fx.bookings.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, got.PlaceIDs, "membership unchanged")
	assert.False(t, fx.inventory.places[2].available, "existing hold kept")
}

func TestBookingUpdate_CancelReleasesAndKeepsMembership(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2, 3}, "")
	require.NoError(t, err)

	updated, err := fx.svc.Update(context.Background(), b.ID, 1, nil, model.BookingCanceled)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCanceled, updated.Status)
	assert.Equal(t, []uint64{2, 3}, updated.PlaceIDs, "membership survives the cancel")
	assert.True(t, fx.inventory.places[2].available)
	assert.True(t, fx.inventory.places[3].available)

	// A canceled booking is immutable.
	_, err = fx.svc.Update(context.Background(), b.ID, 1, []uint64{4}, model.BookingCreated)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestBookingUpdateStatus_OwnershipAndIdempotencyGuards(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	require.NoError(t, err)

	_, err = fx.svc.UpdateStatus(context.Background(), b.ID, 8, model.BookingPaid)
	assert.ErrorIs(t, err, service.ErrForbidden)

	_, err = fx.svc.UpdateStatus(context.Background(), b.ID, 7, model.BookingCreated)
	assert.ErrorIs(t, err, repository.ErrConflict, "no-op transition is a conflict")

	paid, err := fx.svc.UpdateStatus(context.Background(), b.ID, 7, model.BookingPaid)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaid, paid.Status)
	assert.False(t, fx.inventory.places[2].available, "paying keeps the hold")
}

func TestBookingUpdateStatus_CancelReleasesPlaces(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2, 3}, "")
	require.NoError(t, err)

	_, err = fx.svc.UpdateStatus(context.Background(), b.ID, 7, model.BookingCanceled)
	require.NoError(t, err)
	assert.True(t, fx.inventory.places[2].available)
	assert.True(t, fx.inventory.places[3].available)

	_, err = fx.svc.UpdateStatus(context.Background(), b.ID, 7, model.BookingPaid)
	assert.ErrorIs(t, err, repository.ErrConflict, "canceled is terminal")
}

func TestBookingDelete_ReleasesAndNotifiesOnce(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	require.NoError(t, err)
	fx.pub.msgs = nil

	require.NoError(t, fx.svc.Delete(context.Background(), b.ID))
	assert.True(t, fx.inventory.places[2].available)
	require.Len(t, fx.pub.msgs, 1)
	assert.Equal(t, queue.ActionDelete, fx.pub.msgs[0].env.Action)

	assert.ErrorIs(t, fx.svc.Delete(context.Background(), b.ID), repository.ErrBookingNotFound)
}

func TestBookingDelete_CanceledBookingIsSilent(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	require.NoError(t, err)
	_, err = fx.svc.UpdateStatus(context.Background(), b.ID, 7, model.BookingCanceled)
	require.NoError(t, err)
	fx.pub.msgs = nil

	require.NoError(t, fx.svc.Delete(context.Background(), b.ID))
	assert.Empty(t, fx.pub.msgs, "cancel already emitted the terminal notice")
}

func TestReclaimBySession_CancelsUnpaidAndPublishesRelease(t *testing.T) {
	fx := newBookingFixture(t)
	unpaid, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	require.NoError(t, err)
	paid, err := fx.svc.Create(context.Background(), 8, 1, []uint64{3}, "")
	require.NoError(t, err)
	_, err = fx.svc.UpdateStatus(context.Background(), paid.ID, 8, model.BookingPaid)
	require.NoError(t, err)
	fx.pub.msgs = nil

	require.NoError(t, fx.svc.ReclaimBySession(context.Background(), 1))

	got, err := fx.bookings.GetByID(context.Background(), unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCanceled, got.Status)

	got, err = fx.bookings.GetByID(context.Background(), paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingPaid, got.Status, "paid booking untouched")

	require.Len(t, fx.pub.msgs, 1)
	msg := fx.pub.msgs[0]
	assert.Equal(t, queue.ExchangeSession, msg.exchange)
	assert.Equal(t, queue.KeyPlaceUpdateAvailable, msg.key)
	var upd queue.PlaceAvailabilityUpdate
	require.NoError(t, msg.env.Decode(&upd))
	assert.Equal(t, uint64(1), upd.SessionID)
	assert.Equal(t, []uint64{2}, upd.PlaceIDs)
	assert.True(t, upd.Available)

	// Redelivery after success selects no CREATED rows.
	fx.pub.msgs = nil
	require.NoError(t, fx.svc.ReclaimBySession(context.Background(), 1))
	assert.Empty(t, fx.pub.msgs)
}

func TestReclaimBySession_PublishFailureRollsBack(t *testing.T) {
	fx := newBookingFixture(t)
	b, err := fx.svc.Create(context.Background(), 7, 1, []uint64{2}, "")
	require.NoError(t, err)

	fx.pub.err = errors.New("broker down")
	err = fx.svc.ReclaimBySession(context.Background(), 1)
	require.Error(t, err)

	got, err := fx.bookings.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCreated, got.Status, "cancellation rolled back, retry will redo it")

	fx.pub.err = nil
	require.NoError(t, fx.svc.ReclaimBySession(context.Background(), 1))
	got, err = fx.bookings.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCanceled, got.Status)
}
