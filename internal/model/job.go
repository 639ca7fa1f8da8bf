package model

import "time"

// Trigger kinds for scheduled jobs.
const (
	TriggerCount = "COUNT" // one-shot, fires once at FireAt
	TriggerCron  = "CRON"  // recurring, next fire computed from CronExpr
)

// Job types known to the scheduler. The job name is the session id for
// per-session jobs and a fixed constant for global recurring sweeps, so
// (Name, Type) is a stable, collision-free key.
const (
	JobBookingCheckBeforeStart = "booking-check-before-start"
	JobSessionDisableFinished  = "session-disable-by-finished"
	JobInactiveUserPurge       = "inactive-user-purge"
)

// ScheduledJob is one row of the durable job table, keyed by (Name, Type).
// A COUNT trigger carries FireAt; a CRON trigger carries CronExpr and
// FireAt holds the next computed fire time. Payload is replayed verbatim
// onto the message bus when the trigger fires, so it must carry enough
// context to survive redelivery.
//
// Fields:
//  Name        – job name, typically a session id rendered as string.
//  Type        – job type identity, one of the Job* constants.
//  TriggerKind – COUNT or CRON.
//  FireAt      – next fire time in UTC.
//  CronExpr    – cron expression, empty for COUNT triggers.
//  Payload     – JSON payload published on fire.
//  CreatedAt   – creation timestamp.
type ScheduledJob struct {
	Name        string    // scheduled_jobs.name
	Type        string    // scheduled_jobs.job_type
	TriggerKind string    // scheduled_jobs.trigger_kind
	FireAt      time.Time // scheduled_jobs.fire_at
	CronExpr    string    // scheduled_jobs.cron_expr
	Payload     []byte    // scheduled_jobs.payload
	CreatedAt   time.Time // scheduled_jobs.created_at
}
