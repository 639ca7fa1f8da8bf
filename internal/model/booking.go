package model

import "time"

// Booking statuses form a closed set. A CANCELED booking is terminal:
// its places are released and no further transition is allowed.
const (
	BookingCreated  = "CREATED"  // seats held, not yet paid
	BookingPaid     = "PAID"     // seats held, payment confirmed
	BookingCanceled = "CANCELED" // terminal, seats released
)

// ValidBookingStatus reports whether s is one of the known booking statuses.
func ValidBookingStatus(s string) bool {
	switch s {
	case BookingCreated, BookingPaid, BookingCanceled:
		return true
	}
	return false
}

// Booking records a user's reservation of one or more places for a
// session. The place set of a non-canceled booking is disjoint, per
// session, from every other non-canceled booking's place set.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – user who made the booking.
//  SessionID – session being booked.
//  Status    – state of the booking (CREATED, PAID, CANCELED).
//  PlaceIDs  – places held by this booking, loaded from booking_places.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Booking struct {
	ID        uint64    // bookings.id
	UserID    uint64    // bookings.user_id
	SessionID uint64    // bookings.session_id
	Status    string    // bookings.status
	PlaceIDs  []uint64  // booking_places.place_id rows
	CreatedAt time.Time // bookings.created_at
	UpdatedAt time.Time // bookings.updated_at
}
