package model

import "time"

// Session is a scheduled screening of a movie in a hall. Available=false
// blocks new bookings; it is flipped automatically by the
// disable-by-finished job once the session has ended.
//
// Fields:
//  ID        – primary key identifier.
//  MovieID   – movie reference (duration lives on the movie record).
//  Hall      – hall name or identifier.
//  StartsAt  – when the session begins, stored in UTC.
//  Available – whether new bookings are accepted.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Session struct {
	ID        uint64    // sessions.id
	MovieID   uint64    // sessions.movie_id
	Hall      string    // sessions.hall
	StartsAt  time.Time // sessions.starts_at
	Available bool      // sessions.available
	CreatedAt time.Time // sessions.created_at
	UpdatedAt time.Time // sessions.updated_at
}

// EndsAt computes the session end from the movie duration.
func (s Session) EndsAt(durationMin int) time.Time {
	return s.StartsAt.Add(time.Duration(durationMin) * time.Minute)
}
