package flocklog

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseLevelUnknownFallsBackToWarn(t *testing.T) {
	got, err := ParseLevel("verbose")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, got)
}

func TestGetLoggerNeverNil(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
