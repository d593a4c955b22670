package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "value")

	assert.Equal(t, "value", GetEnvStr("TEST_STR", "default"))
	assert.Equal(t, "default", GetEnvStr("TEST_STR_UNSET", "default"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "not a number")

	assert.Equal(t, 42, GetEnvInt("TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("TEST_INT_BAD", 7))
	assert.Equal(t, 7, GetEnvInt("TEST_INT_UNSET", 7))
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("TEST_INT64", "10485760")

	assert.Equal(t, int64(10485760), GetEnvInt64("TEST_INT64", 1))
	assert.Equal(t, int64(1), GetEnvInt64("TEST_INT64_UNSET", 1))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"maybe", true}, // unparseable falls back to the default
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, GetEnvBool("TEST_BOOL", true))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "2h30m")
	t.Setenv("TEST_DURATION_BAD", "soon")

	assert.Equal(t, 2*time.Hour+30*time.Minute, GetEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("TEST_DURATION_BAD", time.Second))
}

func TestGetEnvLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unknown falls back to the default
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_LOG_LEVEL", tt.value)
			assert.Equal(t, tt.want, GetEnvLogLevel("TEST_LOG_LEVEL", slog.LevelInfo))
		})
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseCommaSeparatedList("a, b ,c"))
	assert.Equal(t, []string{"a"}, ParseCommaSeparatedList("a,,"))
	assert.Empty(t, ParseCommaSeparatedList(""))
}
