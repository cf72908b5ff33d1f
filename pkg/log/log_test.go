package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"debug": DebugLevel,
		"info":  InfoLevel,
		"WARN":  WarnLevel,
		"Error": ErrorLevel,
		"off":   OffLevel,
	} {
		level, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, level, raw)
	}

	for _, raw := range []string{"", "verbose", "trace"} {
		_, err := ParseLevel(raw)
		assert.Error(t, err, raw)
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, Init(&buf, "info"))

	slog.Debug("quiet")
	slog.Info("hello")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "hello")

	assert.Error(t, Init(&buf, "nope"))
}
