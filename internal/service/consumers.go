package service

import (
	"context"
	"fmt"

	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
)

// RegisterConsumers wires the saga's message handlers onto their queues.
// All three handlers are idempotent, which is what makes the broker's
// at-least-once delivery acceptable.
func RegisterConsumers(c *queue.Consumer, bookings *BookingService, sessions *SessionService) {
	c.Handle("booking.check-by-session", func(ctx context.Context, env queue.Envelope) error {
		var check queue.SessionCheck
		if err := env.Decode(&check); err != nil {
			return fmt.Errorf("decode session check: %w", err)
		}
		return bookings.ReclaimBySession(ctx, check.SessionID)
	})

	c.Handle("session.place.update-available", func(ctx context.Context, env queue.Envelope) error {
		var upd queue.PlaceAvailabilityUpdate
		if err := env.Decode(&upd); err != nil {
			return fmt.Errorf("decode place availability update: %w", err)
		}
		return sessions.ApplyPlaceAvailability(ctx, upd)
	})

	c.Handle("session.disable-by-finished", func(ctx context.Context, env queue.Envelope) error {
		var check queue.SessionCheck
		if err := env.Decode(&check); err != nil {
			return fmt.Errorf("decode session check: %w", err)
		}
		return sessions.DisableFinished(ctx, check.SessionID)
	})
}
