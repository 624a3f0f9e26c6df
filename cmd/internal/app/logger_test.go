package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	levels := map[string]slog.Level{
		"debug":     slog.LevelDebug,
		"  Debug  ": slog.LevelDebug,
		"INFO":      slog.LevelInfo,
		"warn":      slog.LevelWarn,
		"Warning":   slog.LevelWarn,
		"error":     slog.LevelError,
		"trace":     slog.LevelInfo,
		"":          slog.LevelInfo,
	}
	for in, want := range levels {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestNewLogger_LevelApplies(t *testing.T) {
	t.Parallel()

	log := newLogger(nil, "error", "json", false)
	assert.False(t, log.Enabled(t.Context(), slog.LevelWarn))
	assert.True(t, log.Enabled(t.Context(), slog.LevelError))
}
