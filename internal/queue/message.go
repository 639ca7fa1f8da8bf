// Package queue defines the message envelope and payloads exchanged over
// the broker, the exchange/queue topology, and the publish/consume
// plumbing. Delivery is at-least-once: every handler wired here must be
// idempotent.
package queue

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Saga action tags. The tag tells a consumer how to interpret the
// payload; UPDATE in particular signals delete-then-recreate semantics
// to the scheduler rather than plain create.
const (
	ActionCreate                  = "CREATE"
	ActionUpdate                  = "UPDATE"
	ActionUpdateStatus            = "UPDATE_STATUS"
	ActionDelete                  = "DELETE"
	ActionSessionStartUpdate      = "SESSION_START_UPDATE"
	ActionBookingCheckBeforeStart = "BOOKING_CHECK_BEFORE_START"
	ActionSessionDisableFinished  = "SESSION_DISABLE_BY_FINISHED"
)

// Envelope is the wire format of every saga message. MessageID is a
// fresh UUID per publish so consumers can correlate redeliveries in
// logs; dedup itself relies on handler idempotency, not on the id.
type Envelope struct {
	MessageID string          `json:"message_id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload in an envelope with the given action tag.
func NewEnvelope(action string, payload interface{}) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MessageID: uuid.NewString(),
		Action:    action,
		Payload:   body,
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// SessionTask asks the scheduler to create, replace or cancel the timer
// jobs of one session. FireAtUnixMs carries the absolute fire time in
// milliseconds so a redelivered task recreates an identical trigger.
type SessionTask struct {
	SessionID    uint64 `json:"session_id"`
	FireAtUnixMs int64  `json:"fire_at_unix_ms"`
}

// SessionCheck names the session whose unpaid bookings must be
// reclaimed, or whose availability must be flipped.
type SessionCheck struct {
	SessionID uint64 `json:"session_id"`
}

// PlaceAvailabilityUpdate instructs the inventory consumer to toggle a
// set of places. The toggle is set-based and idempotent, so replaying
// the same message is harmless.
type PlaceAvailabilityUpdate struct {
	SessionID uint64   `json:"session_id"`
	PlaceIDs  []uint64 `json:"place_ids"`
	Available bool     `json:"available"`
}

// BookingNotice is the outward message published after every booking
// mutation commits locally. Downstream read models (receipts,
// notifications) consume it to stay eventually consistent.
type BookingNotice struct {
	BookingID uint64   `json:"booking_id"`
	UserID    uint64   `json:"user_id"`
	SessionID uint64   `json:"session_id"`
	Status    string   `json:"status"`
	PlaceIDs  []uint64 `json:"place_ids"`
}

// UserTask names the user for scheduler-managed user jobs
// (email-verified cancels a pending purge, delete-inactive is the
// recurring sweep trigger).
type UserTask struct {
	UserID       uint64 `json:"user_id"`
	FireAtUnixMs int64  `json:"fire_at_unix_ms,omitempty"`
}
