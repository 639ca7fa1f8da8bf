package model

// Place is a single seat in a hall, tied to one session. The pair
// (SessionID, Row, Number) is unique. Available=false means the place
// is currently held by some non-canceled booking for that session.
//
// Fields:
//  ID         – primary key identifier.
//  SessionID  – session this place belongs to.
//  Row        – row label (A, B, AA, ...).
//  Number     – position in the row (1-based).
//  PriceCents – price in cents for this place.
//  Available  – availability flag, toggled set-based and idempotently.
type Place struct {
	ID         uint64 // places.id
	SessionID  uint64 // places.session_id
	Row        string // places.row_label
	Number     uint32 // places.number
	PriceCents uint32 // places.price_cents
	Available  bool   // places.available
}
