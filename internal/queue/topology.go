package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange names. All exchanges are direct: a binding matches on the
// exact routing key. The user, receipt and notification exchanges are
// sinks consumed outside this service; they are declared here so a
// publish never races exchange creation.
const (
	ExchangeBooking      = "booking"
	ExchangeSession      = "session"
	ExchangeTask         = "task"
	ExchangeUser         = "user"
	ExchangeReceipt      = "receipt"
	ExchangeNotification = "notification"
)

// Routing keys.
const (
	KeyCheckBySession        = "check-by-session"
	KeyPlaceUpdateAvailable  = "place.update-available"
	KeyDisableByFinished     = "disable-by-finished"
	KeyTaskBeforeStart       = "session.before-start"
	KeyTaskDisableByFinished = "session.disable-by-finished"
	KeyTaskSessionDelete     = "session.delete"
	KeyTaskEmailVerified     = "user.email-verified"
	KeyTaskDeleteInactive    = "user.delete-inactive"
	KeyBookingChanged        = "booking.changed"
)

// Binding declares one durable queue bound to an exchange by routing key.
type Binding struct {
	Exchange string
	Key      string
	Queue    string
}

// Bindings returns the queue topology this service consumes from. Queue
// names mirror exchange.key so the broker admin UI reads naturally.
func Bindings() []Binding {
	return []Binding{
		{ExchangeBooking, KeyCheckBySession, "booking.check-by-session"},
		{ExchangeSession, KeyPlaceUpdateAvailable, "session.place.update-available"},
		{ExchangeSession, KeyDisableByFinished, "session.disable-by-finished"},
		{ExchangeTask, KeyTaskBeforeStart, "task.session.before-start"},
		{ExchangeTask, KeyTaskDisableByFinished, "task.session.disable-by-finished"},
		{ExchangeTask, KeyTaskSessionDelete, "task.session.delete"},
		{ExchangeTask, KeyTaskEmailVerified, "task.user.email-verified"},
		{ExchangeTask, KeyTaskDeleteInactive, "task.user.delete-inactive"},
	}
}

// DeclareTopology declares every exchange, queue and binding on the given
// channel. All declarations are idempotent, so each reconnect re-runs it.
func DeclareTopology(ch *amqp.Channel) error {
	exchanges := []string{
		ExchangeBooking, ExchangeSession, ExchangeTask,
		ExchangeUser, ExchangeReceipt, ExchangeNotification,
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("exchange declare %s: %w", ex, err)
		}
	}
	for _, b := range Bindings() {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.Key, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", b.Queue, err)
		}
	}
	return nil
}
