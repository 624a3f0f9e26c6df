package session

import (
	"errors"
	"fmt"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid session config")

// ResolutionError reports that a presented token could not be resolved: either it
// failed to decode (wraps token.ErrInvalidToken) or the identity lookup failed for
// infrastructure reasons (wraps the store error, including context deadline errors).
//
// It is never used for "no token" or "no such user".
type ResolutionError struct {
	Op  string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err carries a *ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
