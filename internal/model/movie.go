package model

// Movie is reference data owned by an external catalog; only the fields
// the saga needs are mirrored here. DurationMin drives the computation of
// a session's end time and therefore the disable-by-finished trigger.
type Movie struct {
	ID          uint64 // movies.id
	Title       string // movies.title
	DurationMin int    // movies.duration_min
}
