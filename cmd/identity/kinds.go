package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")

	// ErrMalformedID reports an identifier that cannot address a record at all
	// (not a ULID). Callers decide whether it means "not found".
	ErrMalformedID = errors.New("malformed_id")
)
