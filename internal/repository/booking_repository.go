package repository

import (
	"context"
	"database/sql"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
)

// BookingRepo provides data access to the bookings and booking_places
// tables. A booking groups the places a user holds for one session; the
// booking_places rows are the membership set. All timestamps are stored
// in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// CreateTx inserts a booking and its place memberships within the given
// transaction. The generated ID and timestamps are populated on b. The
// caller must commit or roll back.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (user_id, session_id, status) VALUES (?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.UserID, b.SessionID, b.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	if err := r.insertPlacesTx(ctx, tx, b.ID, b.PlaceIDs); err != nil {
		return err
	}
	const sel = `SELECT created_at, updated_at FROM bookings WHERE id = ?`
	return tx.QueryRowContext(ctx, sel, b.ID).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *BookingRepo) insertPlacesTx(ctx context.Context, tx *sql.Tx, bookingID uint64, placeIDs []uint64) error {
	if len(placeIDs) == 0 {
		return nil
	}
	query := `INSERT INTO booking_places (booking_id, place_id) VALUES `
	args := make([]interface{}, 0, len(placeIDs)*2)
	for i, pid := range placeIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, bookingID, pid)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// Create persists a booking and its place memberships in one transaction.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.CreateTx(ctx, tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Update rewrites a booking's session, status and place membership in one
// transaction. The caller has already reserved/released the symmetric
// difference against the inventory.
func (r *BookingRepo) Update(ctx context.Context, id, sessionID uint64, status string, placeIDs []uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.UpdateTx(ctx, tx, id, sessionID, status); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.ReplacePlacesTx(ctx, tx, id, placeIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CancelCreatedBySession transitions every CREATED booking of a session
// to CANCELED. beforeCommit runs inside the transaction, after the rows
// are locked and flipped but before the commit: the reclaim handler
// publishes its place-release message there, so a failed publish rolls
// the cancellations back and broker redelivery retries the whole step
// instead of stranding released-on-paper seats.
func (r *BookingRepo) CancelCreatedBySession(ctx context.Context, sessionID uint64, beforeCommit func(bookingIDs, placeIDs []uint64) error) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	bookingIDs, placeIDs, err := r.CancelCreatedBySessionTx(ctx, tx, sessionID)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if len(bookingIDs) == 0 {
		_ = tx.Rollback()
		return 0, nil
	}
	if beforeCommit != nil {
		if err := beforeCommit(bookingIDs, placeIDs); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	return len(bookingIDs), tx.Commit()
}

// GetByID loads a booking together with its place-id set. Returns
// ErrBookingNotFound when no row exists.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const q = `SELECT id, user_id, session_id, status, created_at, updated_at
	           FROM bookings WHERE id = ?`
	var b model.Booking
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.UserID, &b.SessionID, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	ids, err := r.placeIDs(ctx, r.db, b.ID)
	if err != nil {
		return nil, err
	}
	b.PlaceIDs = ids
	return &b, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *BookingRepo) placeIDs(ctx context.Context, q querier, bookingID uint64) ([]uint64, error) {
	rows, err := q.QueryContext(ctx, `SELECT place_id FROM booking_places WHERE booking_id = ?`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var pid uint64
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		ids = append(ids, pid)
	}
	return ids, rows.Err()
}

// ReplacePlacesTx replaces the booking's place membership with the given
// set inside the provided transaction. Used by the update entry point
// after the symmetric difference has been validated and reserved.
func (r *BookingRepo) ReplacePlacesTx(ctx context.Context, tx *sql.Tx, bookingID uint64, placeIDs []uint64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_places WHERE booking_id = ?`, bookingID); err != nil {
		return err
	}
	return r.insertPlacesTx(ctx, tx, bookingID, placeIDs)
}

// UpdateTx rewrites a booking's session and status within a transaction.
func (r *BookingRepo) UpdateTx(ctx context.Context, tx *sql.Tx, id uint64, sessionID uint64, status string) error {
	const q = `UPDATE bookings SET session_id = ?, status = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, sessionID, status, id)
	return err
}

// UpdateStatusGuarded sets the booking status only when the current
// status differs from the requested one. The zero-rows outcome is the
// idempotency guard against duplicate status-update messages: the caller
// must treat it as ErrConflict, not silently succeed.
func (r *BookingRepo) UpdateStatusGuarded(ctx context.Context, id uint64, status string) (int64, error) {
	const q = `UPDATE bookings SET status = ? WHERE id = ? AND status <> ?`
	res, err := r.db.ExecContext(ctx, q, status, id, status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteTx removes a booking and its place memberships.
func (r *BookingRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_places WHERE booking_id = ?`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	return err
}

// Delete removes a booking outside any caller transaction. Used by the
// create path to roll back a just-persisted booking after the inventory
// update lost the race.
func (r *BookingRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.DeleteTx(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CancelCreatedBySessionTx transitions every CREATED booking of the
// session to CANCELED and returns the ids of the canceled bookings plus
// the union of the place ids they held. Re-running it selects zero rows
// and returns empty slices, which makes the expiry-reclaim handler safe
// under broker redelivery.
func (r *BookingRepo) CancelCreatedBySessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) (bookingIDs, placeIDs []uint64, err error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM bookings WHERE session_id = ? AND status = ? FOR UPDATE`,
		sessionID, model.BookingCreated,
	)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var id uint64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, nil, scanErr
		}
		bookingIDs = append(bookingIDs, id)
	}
	if err = rows.Close(); err != nil {
		return nil, nil, err
	}
	if len(bookingIDs) == 0 {
		return nil, nil, nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE bookings SET status = ? WHERE session_id = ? AND status = ?`,
		model.BookingCanceled, sessionID, model.BookingCreated,
	)
	if err != nil {
		return nil, nil, err
	}
	// Union of held places across the canceled bookings. Place sets of
	// non-canceled bookings are disjoint per session, so DISTINCT is only
	// protection against dirty data.
	query := `SELECT DISTINCT place_id FROM booking_places WHERE booking_id IN (`
	args := make([]interface{}, 0, len(bookingIDs))
	for i, id := range bookingIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"
	prows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var pid uint64
		if err := prows.Scan(&pid); err != nil {
			return nil, nil, err
		}
		placeIDs = append(placeIDs, pid)
	}
	return bookingIDs, placeIDs, prows.Err()
}
