package question

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned for malformed input, e.g. empty question text.
var ErrValidation = errors.New("validation failed")

// ErrConflict is returned when an update carries a stale version stamp,
// meaning another writer changed the record in between.
var ErrConflict = errors.New("concurrent modification detected")
