package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLoggerIsJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter("production", &buf)

	logger.Debug("hidden")
	logger.Info("shown", "room", "a_b")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, "a_b", record["room"])
}

func TestPionFactoryScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pion := PionFactory{Logger: logger}.NewLogger("ice")
	pion.Tracef("dropped %d", 1)
	pion.Warnf("candidate %s failed", "host")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"scope":"pion/ice"`)
	assert.Contains(t, out, "candidate host failed")
	assert.Contains(t, out, `"level":"WARN"`)
}
