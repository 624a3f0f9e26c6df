package realtime

import (
	"time"

	"gatehouse/cmd/identity/ids"

	"github.com/google/uuid"
)

// NewConnID returns a random UUIDv4 naming one WebSocket connection in logs and frames.
func NewConnID() string {
	return uuid.NewString()
}

// NewEnvelopeID returns a ULID so server frames sort by time in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return uuid.NewString()
	}
	return id
}
