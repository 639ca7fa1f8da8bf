package service

import "errors"

// ErrValidation marks a request rejected before any store mutation:
// malformed fields, an unavailable or already-finished session, an
// unknown status value. Handlers translate it into HTTP 400.
var ErrValidation = errors.New("validation")

// ErrForbidden is returned when the caller attempts an operation on a
// booking owned by another user. Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")
