package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
)

// TaskHandlers maintains the job table from messages on the task
// exchange. Every handler is idempotent: replaying a CREATE re-upserts
// the same row, replaying a cancel deletes nothing.
type TaskHandlers struct {
	eng *Engine
}

// NewTaskHandlers binds task handlers to an engine.
func NewTaskHandlers(eng *Engine) *TaskHandlers { return &TaskHandlers{eng: eng} }

// Register wires the handlers onto their task queues.
func (t *TaskHandlers) Register(c *queue.Consumer) {
	c.Handle("task.session.before-start", t.handleSessionJob(model.JobBookingCheckBeforeStart))
	c.Handle("task.session.disable-by-finished", t.handleSessionJob(model.JobSessionDisableFinished))
	c.Handle("task.session.delete", t.HandleSessionDelete)
	c.Handle("task.user.email-verified", t.HandleEmailVerified)
	c.Handle("task.user.delete-inactive", t.HandleDeleteInactive)
}

// handleSessionJob schedules one per-session count-trigger job. The
// SESSION_START_UPDATE action cancels the stale trigger before
// recreating it; plain creates rely on upsert-by-key, so either way the
// session ends with exactly one job of this type.
func (t *TaskHandlers) handleSessionJob(jobType string) queue.Handler {
	return func(ctx context.Context, env queue.Envelope) error {
		var task queue.SessionTask
		if err := env.Decode(&task); err != nil {
			return fmt.Errorf("decode session task: %w", err)
		}
		if task.SessionID == 0 {
			return fmt.Errorf("session task without session id")
		}
		name := strconv.FormatUint(task.SessionID, 10)
		if env.Action == queue.ActionSessionStartUpdate {
			if err := t.eng.Cancel(ctx, name, jobType); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(queue.SessionCheck{SessionID: task.SessionID})
		if err != nil {
			return err
		}
		return t.eng.Schedule(ctx, name, jobType, NewCountTrigger(task.FireAtUnixMs), payload)
	}
}

// HandleSessionDelete cancels both per-session jobs outright.
func (t *TaskHandlers) HandleSessionDelete(ctx context.Context, env queue.Envelope) error {
	var task queue.SessionTask
	if err := env.Decode(&task); err != nil {
		return fmt.Errorf("decode session task: %w", err)
	}
	name := strconv.FormatUint(task.SessionID, 10)
	if err := t.eng.Cancel(ctx, name, model.JobBookingCheckBeforeStart); err != nil {
		return err
	}
	return t.eng.Cancel(ctx, name, model.JobSessionDisableFinished)
}

// HandleEmailVerified drops the pending purge job for a user who proved
// their address; a user without such a job is a no-op.
func (t *TaskHandlers) HandleEmailVerified(ctx context.Context, env queue.Envelope) error {
	var task queue.UserTask
	if err := env.Decode(&task); err != nil {
		return fmt.Errorf("decode user task: %w", err)
	}
	name := strconv.FormatUint(task.UserID, 10)
	return t.eng.Cancel(ctx, name, model.JobInactiveUserPurge)
}

// HandleDeleteInactive schedules a one-shot purge for the named user at
// the carried fire time. The recurring global sweep is registered at
// startup via RegisterMaintenance instead.
func (t *TaskHandlers) HandleDeleteInactive(ctx context.Context, env queue.Envelope) error {
	var task queue.UserTask
	if err := env.Decode(&task); err != nil {
		return fmt.Errorf("decode user task: %w", err)
	}
	if task.UserID == 0 {
		return fmt.Errorf("user task without user id")
	}
	name := strconv.FormatUint(task.UserID, 10)
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return t.eng.Schedule(ctx, name, model.JobInactiveUserPurge, NewCountTrigger(task.FireAtUnixMs), payload)
}

// RegisterMaintenance installs the recurring inactive-user sweep if it
// is not already present. Called once at startup; the exists guard keeps
// restarts from resetting the cron's phase.
func (t *TaskHandlers) RegisterMaintenance(ctx context.Context, cronExpr string) error {
	tr, err := NewCronTrigger(cronExpr)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(queue.UserTask{})
	if err != nil {
		return err
	}
	return t.eng.ScheduleIfAbsent(ctx, "global", model.JobInactiveUserPurge, tr, payload)
}
