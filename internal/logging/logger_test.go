package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestPrettyHandler_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Options{Level: "warn", NoColor: true}))

	log.Info("hidden")
	log.Warn("shown", "peer", "10.0.0.1:8848")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "shown peer=10.0.0.1:8848")
}

func TestPrettyHandler_KeepsWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Options{Level: "debug", NoColor: true})).
		With("node", "a").
		WithGroup("raft")

	log.Debug("tick", "term", 3)

	out := buf.String()
	assert.Contains(t, out, "node=a")
	assert.Contains(t, out, "raft.term=3")
}

func TestPrettyHandler_StackOnlyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Options{Level: "info", NoColor: true}))

	log.Error("write failed", "error", errors.New("disk full"))

	out := buf.String()
	assert.Contains(t, out, "error=disk full")
	assert.NotContains(t, out, "goroutine")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, Options{Level: "info", Format: "json"}))

	log.Info("leader changed", "leader", "b")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	assert.Equal(t, "leader changed", rec["msg"])
	assert.Equal(t, "b", rec["leader"])
}
