package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls login endpoint limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP sliding window over failed logins.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// Per-email progressive lockout, counted over LoginUserWindow.
	LoginUserWindow        time.Duration
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	// ThrottleCacheSize bounds the number of tracked IPs and emails (each).
	ThrottleCacheSize int
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:             false,
		MaxBodyBytes:           64 << 10, // 64 KiB
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LoginUserWindow:        15 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    15 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  time.Hour,
		ThrottleCacheSize:      10_000,
	}
}

// LoadConfigFromEnv returns DefaultConfig with env overrides applied.
func LoadConfigFromEnv() Config {
	return DefaultConfig().WithEnv()
}

// WithEnv applies GATEHOUSE_AUTH_* overrides on top of c. Invalid values keep the current value.
func (c Config) WithEnv() Config {
	c.TrustProxy = envBool("GATEHOUSE_AUTH_TRUST_PROXY", c.TrustProxy)
	c.MaxBodyBytes = envInt64("GATEHOUSE_AUTH_MAX_BODY_BYTES", c.MaxBodyBytes)
	c.LoginIPMax = envInt("GATEHOUSE_AUTH_LOGIN_IP_MAX", c.LoginIPMax)
	c.LoginIPWindow = envDuration("GATEHOUSE_AUTH_LOGIN_IP_WINDOW", c.LoginIPWindow)
	c.LoginUserWindow = envDuration("GATEHOUSE_AUTH_LOGIN_USER_WINDOW", c.LoginUserWindow)
	c.LockoutShortThreshold = envInt("GATEHOUSE_AUTH_LOCKOUT_SHORT_THRESHOLD", c.LockoutShortThreshold)
	c.LockoutShortDuration = envDuration("GATEHOUSE_AUTH_LOCKOUT_SHORT_DURATION", c.LockoutShortDuration)
	c.LockoutLongThreshold = envInt("GATEHOUSE_AUTH_LOCKOUT_LONG_THRESHOLD", c.LockoutLongThreshold)
	c.LockoutLongDuration = envDuration("GATEHOUSE_AUTH_LOCKOUT_LONG_DURATION", c.LockoutLongDuration)
	c.LockoutSevereThreshold = envInt("GATEHOUSE_AUTH_LOCKOUT_SEVERE_THRESHOLD", c.LockoutSevereThreshold)
	c.LockoutSevereDuration = envDuration("GATEHOUSE_AUTH_LOCKOUT_SEVERE_DURATION", c.LockoutSevereDuration)
	c.ThrottleCacheSize = envInt("GATEHOUSE_AUTH_THROTTLE_CACHE_SIZE", c.ThrottleCacheSize)
	return c.normalized()
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = def.LoginIPWindow
	}
	if c.LoginUserWindow <= 0 {
		c.LoginUserWindow = def.LoginUserWindow
	}
	if c.ThrottleCacheSize <= 0 {
		c.ThrottleCacheSize = def.ThrottleCacheSize
	}
	return c
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

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
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
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
