package realtime

import "time"

const (
	// Max bytes per inbound frame. Clients only send small control frames.
	maxFrameBytes = 16 << 10

	minSendQueueSize = 8

	maxPingFailures = 3
	closeGrace      = time.Second
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
