package realtime

import (
	"sync"

	"gatehouse/cmd/identity"
	v1 "gatehouse/shared/contracts/realtime/v1"
)

// Client is one authenticated WebSocket connection.
//
// Send is never closed by the server; done signals goroutines to stop.
type Client struct {
	ConnID   string
	Identity identity.User
	Send     chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client bound to u with a bounded send queue.
func NewClient(connID string, u identity.User, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = minSendQueueSize
	}
	return &Client{
		ConnID:   connID,
		Identity: u,
		Send:     make(chan v1.Envelope, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close is idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
