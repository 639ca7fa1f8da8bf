package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
)

// JobRepo persists scheduled jobs keyed by (name, job_type). The table is
// the scheduler's source of truth: a process restart re-reads it and due
// triggers that were missed during downtime still fire.
type JobRepo struct {
	db *sql.DB
}

// NewJobRepo constructs a JobRepo with the given DB handle.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

// Upsert creates the job or overwrites an existing row under the same
// (name, job_type) key. Replace-on-reschedule is therefore a single
// statement rather than delete-then-insert.
func (r *JobRepo) Upsert(ctx context.Context, j *model.ScheduledJob) error {
	const q = `INSERT INTO scheduled_jobs (name, job_type, trigger_kind, fire_at, cron_expr, payload)
	           VALUES (?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	             trigger_kind = VALUES(trigger_kind),
	             fire_at = VALUES(fire_at),
	             cron_expr = VALUES(cron_expr),
	             payload = VALUES(payload)`
	_, err := r.db.ExecContext(ctx, q,
		j.Name, j.Type, j.TriggerKind, j.FireAt.UTC(), j.CronExpr, j.Payload,
	)
	return err
}

// Delete removes the job with the given key. Deleting a job that does
// not exist is a no-op.
func (r *JobRepo) Delete(ctx context.Context, name, jobType string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE name = ? AND job_type = ?`, name, jobType)
	return err
}

// Exists reports whether a trigger is registered under the given key.
// Supports schedule-only-if-absent semantics for recurring cron jobs.
func (r *JobRepo) Exists(ctx context.Context, name, jobType string) (bool, error) {
	const q = `SELECT 1 FROM scheduled_jobs WHERE name = ? AND job_type = ? LIMIT 1`
	var one int
	err := r.db.QueryRowContext(ctx, q, name, jobType).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DueTx selects jobs whose fire time has passed, locking the rows for the
// duration of the claim transaction so concurrent engine instances do not
// fire the same trigger twice.
func (r *JobRepo) DueTx(ctx context.Context, tx *sql.Tx, limit int) ([]model.ScheduledJob, error) {
	const q = `SELECT name, job_type, trigger_kind, fire_at, cron_expr, payload, created_at
	           FROM scheduled_jobs
	           WHERE fire_at <= UTC_TIMESTAMP()
	           ORDER BY fire_at
	           LIMIT ?
	           FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []model.ScheduledJob
	for rows.Next() {
		var j model.ScheduledJob
		if err := rows.Scan(&j.Name, &j.Type, &j.TriggerKind, &j.FireAt, &j.CronExpr, &j.Payload, &j.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteTx removes a fired one-shot job inside the claim transaction.
func (r *JobRepo) DeleteTx(ctx context.Context, tx *sql.Tx, name, jobType string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE name = ? AND job_type = ?`, name, jobType)
	return err
}

// RescheduleTx advances a recurring job to its next computed fire time.
func (r *JobRepo) RescheduleTx(ctx context.Context, tx *sql.Tx, name, jobType string, j model.ScheduledJob) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE scheduled_jobs SET fire_at = ? WHERE name = ? AND job_type = ?`,
		j.FireAt.UTC(), name, jobType)
	return err
}

// ClaimDue selects due jobs under row locks, calls fire for each, then
// deletes one-shots and advances cron jobs per next, committing the
// whole claim at once. A fire error rolls everything back so the jobs
// stay due; since fire publishes before the delete commits, a crash
// inside the claim can only redeliver, never drop.
func (r *JobRepo) ClaimDue(ctx context.Context, limit int,
	fire func(model.ScheduledJob) error,
	next func(model.ScheduledJob) (time.Time, bool),
) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	jobs, err := r.DueTx(ctx, tx, limit)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	for _, j := range jobs {
		if err := fire(j); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if at, keep := next(j); keep {
			j.FireAt = at
			err = r.RescheduleTx(ctx, tx, j.Name, j.Type, j)
		} else {
			err = r.DeleteTx(ctx, tx, j.Name, j.Type)
		}
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(jobs), nil
}
