package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
)

// movieQueryTimeout bounds reference-data lookups; the saga steps run in
// message-consumer contexts that must eventually ack or nack, so a
// hanging catalog query is converted into ErrUpstream instead.
const movieQueryTimeout = 3 * time.Second

// MovieRepo reads movie reference data. The catalog is owned elsewhere;
// this repository only mirrors the fields the scheduler needs and treats
// any failure as an upstream outage that aborts the calling operation
// before local state changes.
type MovieRepo struct {
	db *sql.DB
}

// NewMovieRepo constructs a MovieRepo with the given DB handle.
func NewMovieRepo(db *sql.DB) *MovieRepo { return &MovieRepo{db: db} }

// GetByID returns a movie or ErrMovieNotFound.
func (r *MovieRepo) GetByID(ctx context.Context, id uint64) (*model.Movie, error) {
	ctx, cancel := context.WithTimeout(ctx, movieQueryTimeout)
	defer cancel()
	const q = `SELECT id, title, duration_min FROM movies WHERE id = ?`
	var m model.Movie
	err := r.db.QueryRowContext(ctx, q, id).Scan(&m.ID, &m.Title, &m.DurationMin)
	if err == sql.ErrNoRows {
		return nil, ErrMovieNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: movie lookup: %v", ErrUpstream, err)
	}
	return &m, nil
}

// DurationMin returns the movie duration in minutes.
func (r *MovieRepo) DurationMin(ctx context.Context, id uint64) (int, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.DurationMin, nil
}
