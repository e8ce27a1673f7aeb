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

func TestSetup_TextConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := Setup(&buf, Options{Level: slog.LevelInfo})
	defer closeFn()

	logger.Debug("hidden")
	logger.Info("commit", "table", "sales", "version", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=commit")
	assert.Contains(t, out, "table=sales")
	assert.Contains(t, out, "version=3")
}

func TestSetup_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := Setup(&buf, Options{Level: slog.LevelDebug, Format: "json"})
	defer closeFn()

	logger.Debug("audit", "table", "oil", "files", 12)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "oil", rec["table"])
	assert.EqualValues(t, 12, rec["files"])
}

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h).With("component", "audit").WithGroup("report")

	logger.Info("healthy", "absolute", 0)
	logger.Warn("corrupt", "absolute", 2)

	assert.Equal(t, 2, strings.Count(debugBuf.String(), "\n"))
	assert.Equal(t, 1, strings.Count(warnBuf.String(), "\n"))
	assert.Contains(t, warnBuf.String(), "component=audit")
	assert.Contains(t, warnBuf.String(), "report.absolute=2")
}
