package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmarkhas/cinema-booking-saga/internal/logger"
	"github.com/dmarkhas/cinema-booking-saga/internal/model"
	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
)

// ErrScheduler wraps job-store failures. A request that cannot register
// its jobs cannot let the saga progress, so callers surface this to the
// client instead of swallowing it.
var ErrScheduler = errors.New("scheduler failure")

// JobStore is the durable job table. ClaimDue atomically selects due
// jobs, invokes fire for each, then removes one-shots and advances cron
// jobs via next; a fire error aborts the whole claim so the jobs remain
// due and fire again on a later sweep.
type JobStore interface {
	Upsert(ctx context.Context, j *model.ScheduledJob) error
	Delete(ctx context.Context, name, jobType string) error
	Exists(ctx context.Context, name, jobType string) (bool, error)
	ClaimDue(ctx context.Context, limit int,
		fire func(model.ScheduledJob) error,
		next func(model.ScheduledJob) (time.Time, bool)) (int, error)
}

// Engine owns the job table and the polling driver. Firing publishes to
// the message bus, never calls a service directly: broker redelivery then
// covers a crash between "trigger due" and "message durably enqueued".
type Engine struct {
	store    JobStore
	pub      queue.Publisher
	interval time.Duration
	batch    int
	wake     chan struct{}
}

// New constructs an Engine sweeping at the given interval.
func New(store JobStore, pub queue.Publisher, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		store:    store,
		pub:      pub,
		interval: interval,
		batch:    100,
		wake:     make(chan struct{}, 1),
	}
}

// Schedule creates or overwrites the job under (name, jobType). The
// payload is replayed verbatim when the trigger fires.
func (e *Engine) Schedule(ctx context.Context, name, jobType string, tr Trigger, payload []byte) error {
	now := time.Now().UTC()
	fireAt, ok := tr.NextFire(now)
	if !ok {
		return fmt.Errorf("%w: trigger for %s/%s never fires", ErrScheduler, name, jobType)
	}
	j := &model.ScheduledJob{
		Name:        name,
		Type:        jobType,
		TriggerKind: tr.Kind(),
		FireAt:      fireAt,
		Payload:     payload,
	}
	if ct, isCron := tr.(CronTrigger); isCron {
		j.CronExpr = ct.Expr
	}
	if err := e.store.Upsert(ctx, j); err != nil {
		return fmt.Errorf("%w: upsert %s/%s: %v", ErrScheduler, name, jobType, err)
	}
	e.nudge()
	return nil
}

// ScheduleIfAbsent registers the job only when no trigger exists for the
// key. Keeps recurring cron jobs from being duplicated on every restart.
func (e *Engine) ScheduleIfAbsent(ctx context.Context, name, jobType string, tr Trigger, payload []byte) error {
	exists, err := e.store.Exists(ctx, name, jobType)
	if err != nil {
		return fmt.Errorf("%w: exists %s/%s: %v", ErrScheduler, name, jobType, err)
	}
	if exists {
		return nil
	}
	return e.Schedule(ctx, name, jobType, tr, payload)
}

// Cancel deletes the job under the key; canceling an absent job is a
// no-op.
func (e *Engine) Cancel(ctx context.Context, name, jobType string) error {
	if err := e.store.Delete(ctx, name, jobType); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", ErrScheduler, name, jobType, err)
	}
	return nil
}

// ExistsTriggerFor reports whether a trigger is registered for the key.
func (e *Engine) ExistsTriggerFor(ctx context.Context, name, jobType string) (bool, error) {
	return e.store.Exists(ctx, name, jobType)
}

// nudge wakes the poller so a freshly scheduled near-term trigger does
// not wait out a full sweep interval.
func (e *Engine) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drives the sweep loop until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
		}
		if err := e.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Errorw("scheduler sweep failed", "err", err)
		}
	}
}

// Sweep fires every due job once. Publication happens inside the claim,
// before the row is removed: a crash mid-claim leaves the job due and it
// fires again, which the idempotent handlers tolerate; a fired job is
// never silently lost.
func (e *Engine) Sweep(ctx context.Context) error {
	for {
		n, err := e.store.ClaimDue(ctx, e.batch, e.fire, e.next)
		if err != nil {
			return err
		}
		if n < e.batch {
			return nil
		}
	}
}

func (e *Engine) fire(j model.ScheduledJob) error {
	exchange, key, action, ok := routeForType(j.Type)
	if !ok {
		// Unknown type: log and let ClaimDue drop it, there is no handler
		// that could ever consume it.
		logger.L().Warnw("dropping job of unknown type", "name", j.Name, "type", j.Type)
		return nil
	}
	env, err := queue.NewEnvelope(action, json.RawMessage(j.Payload))
	if err != nil {
		return fmt.Errorf("envelope %s/%s: %w", j.Name, j.Type, err)
	}
	if err := e.pub.Publish(context.Background(), exchange, key, env); err != nil {
		return fmt.Errorf("publish %s/%s: %w", j.Name, j.Type, err)
	}
	logger.L().Infow("job fired", "name", j.Name, "type", j.Type, "exchange", exchange, "key", key)
	return nil
}

// next advances recurring jobs and removes everything else.
func (e *Engine) next(j model.ScheduledJob) (time.Time, bool) {
	if j.TriggerKind == model.TriggerCron {
		return nextCronFire(j.CronExpr, time.Now().UTC())
	}
	return time.Time{}, false
}

// routeForType maps a job type to the exchange, routing key and action of
// the message it publishes on fire.
func routeForType(jobType string) (exchange, key, action string, ok bool) {
	switch jobType {
	case model.JobBookingCheckBeforeStart:
		return queue.ExchangeBooking, queue.KeyCheckBySession, queue.ActionBookingCheckBeforeStart, true
	case model.JobSessionDisableFinished:
		return queue.ExchangeSession, queue.KeyDisableByFinished, queue.ActionSessionDisableFinished, true
	case model.JobInactiveUserPurge:
		return queue.ExchangeUser, "delete-inactive", queue.ActionDelete, true
	}
	return "", "", "", false
}
