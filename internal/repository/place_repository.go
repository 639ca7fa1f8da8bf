package repository

import (
	"context"
	"database/sql"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
)

// PlaceRepo is the inventory side of the saga: it owns the places table
// and the set-based availability toggle. The toggle's rows-affected
// count is the authoritative race-breaker for concurrent reservations;
// the query helpers below are advisory pre-checks only.
type PlaceRepo struct {
	db *sql.DB
}

// NewPlaceRepo constructs a PlaceRepo with the given DB handle.
func NewPlaceRepo(db *sql.DB) *PlaceRepo { return &PlaceRepo{db: db} }

// CreateBulk inserts the places of a session in a single statement.
func (r *PlaceRepo) CreateBulk(ctx context.Context, places []model.Place) error {
	if len(places) == 0 {
		return nil
	}
	query := `INSERT INTO places (session_id, row_label, number, price_cents, available) VALUES `
	args := make([]interface{}, 0, len(places)*5)
	for i, p := range places {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, p.SessionID, p.Row, p.Number, p.PriceCents, p.Available)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// ListBySession returns all places of a session ordered by row and number.
func (r *PlaceRepo) ListBySession(ctx context.Context, sessionID uint64) ([]model.Place, error) {
	const q = `SELECT id, session_id, row_label, number, price_cents, available
	           FROM places WHERE session_id = ?
	           ORDER BY row_label, number`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var places []model.Place
	for rows.Next() {
		var p model.Place
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Row, &p.Number, &p.PriceCents, &p.Available); err != nil {
			return nil, err
		}
		places = append(places, p)
	}
	return places, rows.Err()
}

// SetAvailable toggles availability for the given place ids of one
// session and returns how many rows actually flipped. The WHERE clause
// skips rows already carrying the target value, so the call is
// idempotent and the count tells a racing reserver whether it won: fewer
// flips than requested ids means somebody else holds at least one place.
func (r *PlaceRepo) SetAvailable(ctx context.Context, sessionID uint64, placeIDs []uint64, available bool) (int64, error) {
	if len(placeIDs) == 0 {
		return 0, nil
	}
	query := `UPDATE places SET available = ? WHERE session_id = ? AND available = ? AND id IN (`
	args := []interface{}{available, sessionID, !available}
	for i, pid := range placeIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, pid)
	}
	query += ")"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reserve flips the given places to unavailable, all-or-nothing. When
// any requested place is already held the whole update is rolled back
// and the short row count is returned, so a racing reserver observes the
// conflict without having disturbed the seats it did manage to flip.
func (r *PlaceRepo) Reserve(ctx context.Context, sessionID uint64, placeIDs []uint64) (int64, error) {
	if len(placeIDs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	query := `UPDATE places SET available = FALSE WHERE session_id = ? AND available = TRUE AND id IN (`
	args := []interface{}{sessionID}
	for i, pid := range placeIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, pid)
	}
	query += ")"
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if n != int64(len(placeIDs)) {
		_ = tx.Rollback()
		return n, nil
	}
	return n, tx.Commit()
}

// SetSessionAvailable flips the availability flag of a session. Setting
// the same value twice is harmless, which keeps the disable-by-finished
// handler idempotent.
func (r *PlaceRepo) SetSessionAvailable(ctx context.Context, sessionID uint64, available bool) error {
	const q = `UPDATE sessions SET available = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, available, sessionID)
	return err
}

// FirstPlaceNotInSession returns the first of the given ids that does not
// belong to the session, or (0, false) when all of them do.
func (r *PlaceRepo) FirstPlaceNotInSession(ctx context.Context, sessionID uint64, placeIDs []uint64) (uint64, bool, error) {
	if len(placeIDs) == 0 {
		return 0, false, nil
	}
	query := `SELECT id FROM places WHERE session_id = ? AND id IN (`
	args := []interface{}{sessionID}
	for i, pid := range placeIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, pid)
	}
	query += ")"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()
	owned := make(map[uint64]struct{}, len(placeIDs))
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return 0, false, err
		}
		owned[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	for _, pid := range placeIDs {
		if _, ok := owned[pid]; !ok {
			return pid, true, nil
		}
	}
	return 0, false, nil
}

// FirstHeldPlace returns the first of the given ids that is currently
// unavailable for the session, or (0, false) when all are free. This is
// an advisory pre-check for a fast user-facing error; the SetAvailable
// row count remains the source of truth.
func (r *PlaceRepo) FirstHeldPlace(ctx context.Context, sessionID uint64, placeIDs []uint64) (uint64, bool, error) {
	if len(placeIDs) == 0 {
		return 0, false, nil
	}
	query := `SELECT id FROM places WHERE session_id = ? AND available = FALSE AND id IN (`
	args := []interface{}{sessionID}
	for i, pid := range placeIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, pid)
	}
	query += ") ORDER BY id LIMIT 1"
	var id uint64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
