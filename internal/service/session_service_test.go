package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
	"github.com/dmarkhas/cinema-booking-saga/internal/repository"
	"github.com/dmarkhas/cinema-booking-saga/internal/service"
)

type fakeSessionStore struct {
	byID   map[uint64]*model.Session
	nextID uint64
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byID: make(map[uint64]*model.Session), nextID: 1}
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	s.ID = f.nextID
	f.nextID++
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uint64) (*model.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) Update(_ context.Context, s *model.Session) error {
	if _, ok := f.byID[s.ID]; !ok {
		return repository.ErrSessionNotFound
	}
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id uint64) error {
	if _, ok := f.byID[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakePlaceStore struct {
	created []model.Place
}

func (f *fakePlaceStore) CreateBulk(_ context.Context, places []model.Place) error {
	f.created = append(f.created, places...)
	return nil
}

func (f *fakePlaceStore) ListBySession(_ context.Context, sessionID uint64) ([]model.Place, error) {
	var out []model.Place
	for _, p := range f.created {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

type sessionFixture struct {
	svc      *service.SessionService
	sessions *fakeSessionStore
	places   *fakePlaceStore
	inv      *fakeInventory
	pub      *fakePub
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	sessions := newFakeSessionStore()
	places := &fakePlaceStore{}
	inv := newFakeInventory()
	movies := &fakeMovies{durations: map[uint64]int{10: 120}}
	pub := &fakePub{}
	return &sessionFixture{
		svc:      service.NewSessionService(sessions, places, inv, movies, pub, 30),
		sessions: sessions,
		places:   places,
		inv:      inv,
		pub:      pub,
	}
}

func decodeSessionTask(t *testing.T, env queue.Envelope) queue.SessionTask {
	t.Helper()
	var task queue.SessionTask
	require.NoError(t, env.Decode(&task))
	return task
}

func TestSessionCreate_GridAndTimerJobs(t *testing.T) {
	fx := newSessionFixture(t)
	startsAt := time.Now().UTC().Add(4 * time.Hour).Truncate(time.Second)

	sess, err := fx.svc.Create(context.Background(),
		&model.Session{MovieID: 10, Hall: "red", StartsAt: startsAt},
		service.SessionLayout{Rows: 2, PerRow: 3, PriceCents: 1500})
	require.NoError(t, err)
	assert.True(t, sess.Available)

	require.Len(t, fx.places.created, 6)
	assert.Equal(t, "A", fx.places.created[0].Row)
	assert.Equal(t, uint32(1), fx.places.created[0].Number)
	assert.Equal(t, "B", fx.places.created[5].Row)
	assert.Equal(t, uint32(3), fx.places.created[5].Number)
	for _, p := range fx.places.created {
		assert.True(t, p.Available)
		assert.Equal(t, uint32(1500), p.PriceCents)
	}

	require.Len(t, fx.pub.msgs, 2)
	assert.Equal(t, queue.ExchangeTask, fx.pub.msgs[0].exchange)
	assert.Equal(t, queue.KeyTaskBeforeStart, fx.pub.msgs[0].key)
	assert.Equal(t, queue.KeyTaskDisableByFinished, fx.pub.msgs[1].key)
	for _, m := range fx.pub.msgs {
		assert.Equal(t, queue.ActionCreate, m.env.Action)
	}

	before := decodeSessionTask(t, fx.pub.msgs[0].env)
	assert.Equal(t, sess.ID, before.SessionID)
	assert.Equal(t, startsAt.Add(-30*time.Minute).UnixMilli(), before.FireAtUnixMs)

	after := decodeSessionTask(t, fx.pub.msgs[1].env)
	assert.Equal(t, startsAt.Add(120*time.Minute).UnixMilli(), after.FireAtUnixMs)
}

func TestSessionCreate_Validation(t *testing.T) {
	fx := newSessionFixture(t)
	future := time.Now().UTC().Add(time.Hour)

	_, err := fx.svc.Create(context.Background(),
		&model.Session{Hall: "red", StartsAt: future}, service.SessionLayout{})
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = fx.svc.Create(context.Background(),
		&model.Session{MovieID: 10, Hall: "red", StartsAt: time.Now().UTC().Add(-time.Minute)},
		service.SessionLayout{})
	assert.ErrorIs(t, err, service.ErrValidation)

	// Unknown movie aborts before any session row exists.
	_, err = fx.svc.Create(context.Background(),
		&model.Session{MovieID: 99, Hall: "red", StartsAt: future}, service.SessionLayout{})
	assert.ErrorIs(t, err, repository.ErrMovieNotFound)
	assert.Empty(t, fx.sessions.byID)
	assert.Empty(t, fx.pub.msgs)
}

func TestSessionUpdate_StartChangeReschedules(t *testing.T) {
	fx := newSessionFixture(t)
	startsAt := time.Now().UTC().Add(4 * time.Hour).Truncate(time.Second)
	sess, err := fx.svc.Create(context.Background(),
		&model.Session{MovieID: 10, Hall: "red", StartsAt: startsAt}, service.SessionLayout{})
	require.NoError(t, err)
	fx.pub.msgs = nil

	moved := startsAt.Add(time.Hour)
	updated, err := fx.svc.Update(context.Background(), &model.Session{ID: sess.ID, StartsAt: moved})
	require.NoError(t, err)
	assert.Equal(t, "red", updated.Hall, "zero fields filled from the stored row")
	assert.Equal(t, uint64(10), updated.MovieID)
	assert.True(t, updated.Available, "availability is owned by the disable job")

	require.Len(t, fx.pub.msgs, 2)
	for _, m := range fx.pub.msgs {
		assert.Equal(t, queue.ActionSessionStartUpdate, m.env.Action)
	}
	before := decodeSessionTask(t, fx.pub.msgs[0].env)
	assert.Equal(t, moved.Add(-30*time.Minute).UnixMilli(), before.FireAtUnixMs)
}

func TestSessionUpdate_NoChangeNoReschedule(t *testing.T) {
	fx := newSessionFixture(t)
	startsAt := time.Now().UTC().Add(4 * time.Hour).Truncate(time.Second)
	sess, err := fx.svc.Create(context.Background(),
		&model.Session{MovieID: 10, Hall: "red", StartsAt: startsAt}, service.SessionLayout{})
	require.NoError(t, err)
	fx.pub.msgs = nil

	_, err = fx.svc.Update(context.Background(), &model.Session{ID: sess.ID})
	require.NoError(t, err)
	assert.Empty(t, fx.pub.msgs, "identical session publishes nothing")
}

func TestSessionDelete_PublishesCancelTask(t *testing.T) {
	fx := newSessionFixture(t)
	startsAt := time.Now().UTC().Add(4 * time.Hour)
	sess, err := fx.svc.Create(context.Background(),
		&model.Session{MovieID: 10, Hall: "red", StartsAt: startsAt}, service.SessionLayout{})
	require.NoError(t, err)
	fx.pub.msgs = nil

	require.NoError(t, fx.svc.Delete(context.Background(), sess.ID))
	assert.Empty(t, fx.sessions.byID)

	require.Len(t, fx.pub.msgs, 1)
	assert.Equal(t, queue.ExchangeTask, fx.pub.msgs[0].exchange)
	assert.Equal(t, queue.KeyTaskSessionDelete, fx.pub.msgs[0].key)
	assert.Equal(t, queue.ActionDelete, fx.pub.msgs[0].env.Action)

	assert.ErrorIs(t, fx.svc.Delete(context.Background(), sess.ID), repository.ErrSessionNotFound)
}

func TestApplyPlaceAvailability_IsIdempotent(t *testing.T) {
	fx := newSessionFixture(t)
	fx.inv.add(1, 5, false)
	fx.inv.add(2, 5, false)

	upd := queue.PlaceAvailabilityUpdate{SessionID: 5, PlaceIDs: []uint64{1, 2}, Available: true}
	require.NoError(t, fx.svc.ApplyPlaceAvailability(context.Background(), upd))
	assert.True(t, fx.inv.places[1].available)
	assert.True(t, fx.inv.places[2].available)

	// Replay flips nothing and fails nothing.
	require.NoError(t, fx.svc.ApplyPlaceAvailability(context.Background(), upd))
	assert.True(t, fx.inv.places[1].available)
}

func TestDisableFinished(t *testing.T) {
	fx := newSessionFixture(t)
	require.NoError(t, fx.svc.DisableFinished(context.Background(), 5))
	assert.Equal(t, []uint64{5}, fx.inv.sessionDisabled)
}

func TestRowLabelProgression(t *testing.T) {
	fx := newSessionFixture(t)
	startsAt := time.Now().UTC().Add(4 * time.Hour)

	// 27 rows crosses the A..Z boundary into AA.
	sess, err := fx.svc.Create(context.Background(),
		&model.Session{MovieID: 10, Hall: "red", StartsAt: startsAt},
		service.SessionLayout{Rows: 27, PerRow: 1, PriceCents: 100})
	require.NoError(t, err)

	places, err := fx.svc.Places(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, places, 27)
	assert.Equal(t, "A", places[0].Row)
	assert.Equal(t, "Z", places[25].Row)
	assert.Equal(t, "AA", places[26].Row)
}
