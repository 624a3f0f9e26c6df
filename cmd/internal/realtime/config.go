package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the WebSocket session gateway.
type Config struct {
	// DevInsecure disables the library's own origin verification. Dev only.
	DevInsecure bool

	// Origin is required by default and only localhost is allowed.
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Per-connection inbound frame limit.
	RateEvents int
	RateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     64,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// LoadConfigFromEnv returns DefaultConfig with GATEHOUSE_WS_* overrides applied.
func LoadConfigFromEnv() Config {
	return DefaultConfig().WithEnv()
}

// WithEnv applies GATEHOUSE_WS_* overrides on top of c. Invalid values keep the current value.
func (c Config) WithEnv() Config {
	c.DevInsecure = envBool("GATEHOUSE_WS_DEV_INSECURE", c.DevInsecure)
	c.OriginRequired = envBool("GATEHOUSE_WS_ORIGIN_REQUIRED", c.OriginRequired)
	c.AllowedOrigins = envCSV("GATEHOUSE_WS_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.WriteTimeout = envDuration("GATEHOUSE_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = envDuration("GATEHOUSE_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.SendQueueSize = envInt("GATEHOUSE_WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatInterval = envDuration("GATEHOUSE_WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.HeartbeatTimeout = envDuration("GATEHOUSE_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = envInt("GATEHOUSE_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDuration("GATEHOUSE_WS_RATE_WINDOW", c.RateWindow)
	return c
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return c
}

// ---- env helpers ----

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// envCSV returns def when key is unset. An explicitly empty list is spelled "-".
func envCSV(key string, def []string) []string {
	raw, ok := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return def
	}
	if raw == "-" {
		return nil
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
