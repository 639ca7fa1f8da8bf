package repository

import (
	"context"
	"database/sql"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
)

// SessionRepo provides CRUD access to the sessions table. Start times are
// stored and compared in UTC.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo with the given DB handle.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a session record. On success the generated ID and
// timestamps are populated.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (movie_id, hall, starts_at, available) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.MovieID, s.Hall, s.StartsAt.UTC(), s.Available)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	const sel = `SELECT created_at, updated_at FROM sessions WHERE id = ?`
	return r.db.QueryRowContext(ctx, sel, s.ID).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session or ErrSessionNotFound.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (*model.Session, error) {
	const q = `SELECT id, movie_id, hall, starts_at, available, created_at, updated_at
	           FROM sessions WHERE id = ?`
	var s model.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.MovieID, &s.Hall, &s.StartsAt, &s.Available, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update rewrites the mutable fields of a session.
func (r *SessionRepo) Update(ctx context.Context, s *model.Session) error {
	const q = `UPDATE sessions SET movie_id = ?, hall = ?, starts_at = ?, available = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, s.MovieID, s.Hall, s.StartsAt.UTC(), s.Available, s.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// The row may exist with identical values; distinguish via lookup.
		if _, err := r.GetByID(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a session and its places.
func (r *SessionRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM places WHERE session_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n == 0 {
		_ = tx.Rollback()
		return ErrSessionNotFound
	}
	return tx.Commit()
}
