// Package scheduler implements the durable job-scheduling engine: a
// persistent table of (name, type)-keyed jobs with one-shot and cron
// triggers, a polling driver that publishes a saga message when a
// trigger fires, and the consumer that maintains jobs from the task
// exchange.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmarkhas/cinema-booking-saga/internal/model"
)

// Trigger computes when a job fires next.
type Trigger interface {
	Kind() string
	// NextFire returns the next fire time after now, and false when the
	// trigger will never fire again.
	NextFire(now time.Time) (time.Time, bool)
}

// CountTrigger fires once at an explicit wall-clock time. A fire time
// already in the past fires on the engine's next sweep.
type CountTrigger struct {
	FireAt time.Time
}

// NewCountTrigger builds a one-shot trigger from a unix-millisecond
// timestamp, the representation carried in task payloads.
func NewCountTrigger(unixMs int64) CountTrigger {
	return CountTrigger{FireAt: time.UnixMilli(unixMs).UTC()}
}

func (t CountTrigger) Kind() string { return model.TriggerCount }

func (t CountTrigger) NextFire(now time.Time) (time.Time, bool) {
	if t.FireAt.Before(now) {
		return now, true
	}
	return t.FireAt, true
}

// CronTrigger fires repeatedly per a standard 5-field cron expression.
type CronTrigger struct {
	Expr     string
	schedule cron.Schedule
}

// NewCronTrigger parses expr with the standard cron parser.
func NewCronTrigger(expr string) (CronTrigger, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return CronTrigger{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return CronTrigger{Expr: expr, schedule: s}, nil
}

func (t CronTrigger) Kind() string { return model.TriggerCron }

func (t CronTrigger) NextFire(now time.Time) (time.Time, bool) {
	return t.schedule.Next(now), true
}

// nextCronFire recomputes the next fire of a persisted cron job. Invalid
// expressions drop the job rather than wedging the sweep.
func nextCronFire(expr string, now time.Time) (time.Time, bool) {
	t, err := NewCronTrigger(expr)
	if err != nil {
		return time.Time{}, false
	}
	return t.NextFire(now)
}
