// Package repository defines error values that are reused across multiple
// repositories. These sentinel values allow higher layers such as services
// and handlers to distinguish between failure scenarios with errors.Is.
// For example, ErrConflict signals that an atomic conditional update
// touched fewer rows than requested (a place was grabbed concurrently),
// while ErrUpstream marks a reference-data lookup that could not complete
// and must abort the request before any local write.
package repository

import "errors"

// ErrBookingNotFound is returned when a booking lookup yields no rows.
var ErrBookingNotFound = errors.New("booking not found")

// ErrSessionNotFound is returned when a session lookup yields no rows.
var ErrSessionNotFound = errors.New("session not found")

// ErrMovieNotFound is returned when a movie lookup yields no rows.
var ErrMovieNotFound = errors.New("movie not found")

// ErrPlaceNotFound is returned when a referenced place does not exist or
// does not belong to the session it was requested for. Handlers should
// translate this into an HTTP 404 response.
var ErrPlaceNotFound = errors.New("place not found in session")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state: a place already held, a booking already carrying the
// requested status, or a duplicate unique key. Handlers should translate
// this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrUpstream is returned when reference data (movie duration, user
// record) could not be fetched within its timeout. The calling operation
// must abort without mutating local state.
var ErrUpstream = errors.New("upstream unavailable")
