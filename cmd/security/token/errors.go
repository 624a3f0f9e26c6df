package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidToken covers every decode failure: bad signature, malformed
	// structure, unexpected algorithm, or a payload that is not exactly {"id": "<non-empty>"}.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig reports an unusable codec configuration.
	ErrConfig = errors.New("invalid token config")
)
