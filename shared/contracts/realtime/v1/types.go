package v1

import "time"

// User is the redacted identity projection sent over the wire.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

// SessionReadyPayload carries the identity the handshake resolved.
type SessionReadyPayload struct {
	ConnID string `json:"conn_id"`
	User   User   `json:"user"`
}

// HelloPayload is optional client metadata.
type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

type HelloAckPayload struct {
	ConnID string `json:"conn_id"`
	UserID string `json:"user_id"`
}

type IdentityPayload struct {
	User User `json:"user"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
