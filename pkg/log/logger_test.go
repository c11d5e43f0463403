package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLoggerTo(context.Background(), &Config{Level: "info", Component: "bridge"}, &buf)
	require.NoError(t, err)

	l.Zerolog().Debug().Msg("hidden")
	l.Named("store").Info().Msg("attached")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "exactly one JSON line expected: %s", buf.String())
	assert.Equal(t, "attached", line["message"])
	assert.Equal(t, "bridge", line["component"])
	assert.Equal(t, "store", line["subsystem"])
}

func TestNewLoggerTo_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLoggerTo(context.Background(), &Config{HumanFriendly: true, NoColoredOutput: true}, &buf)
	require.NoError(t, err)

	l.Zerolog().Warn().Msg("segment missing")
	assert.Contains(t, buf.String(), "| WARN  |")
	assert.Contains(t, buf.String(), "segment missing")
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(context.Background(), &Config{Level: "loud"})
	assert.Error(t, err)
}

func TestSetDefault(t *testing.T) {
	c := &Config{}
	c.SetDefault()
	assert.Equal(t, "info", c.Level)
}
