package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriter_PrefixesCompleteLines(t *testing.T) {
	var out bytes.Buffer
	w := NewLineWriter(&out)
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	n, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "line=1 time=2025-01-02T03:04:05Z first\n", out.String())

	_, err = w.Write([]byte("ond\r\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "line=2 time=2025-01-02T03:04:05Z second", lines[1])
	assert.Equal(t, "line=3 time=2025-01-02T03:04:05Z tail", lines[2])
}

type failingHandler struct {
	slog.Handler
	err error
}

func (h failingHandler) Handle(context.Context, slog.Record) error { return h.err }

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var debug, warn bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Debug("quiet")
	logger.Warn("loud")

	assert.Contains(t, debug.String(), "msg=quiet")
	assert.Contains(t, debug.String(), "msg=loud")
	assert.NotContains(t, warn.String(), "quiet")
	assert.Contains(t, warn.String(), "component=test")
}

func TestMultiHandler_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	base := slog.NewTextHandler(&bytes.Buffer{}, nil)
	h := NewMultiHandler(failingHandler{Handler: base, err: boom}, base)

	err := h.Handle(t.Context(), slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0))
	assert.ErrorIs(t, err, boom)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetup_WritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "mirrorbox.log")
	var console bytes.Buffer

	logger, closeLog, err := Setup(Options{Level: "debug", File: logFile, Console: &console})
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "line=1 ")
	assert.Contains(t, string(data), "msg=hello k=v")
	assert.Contains(t, console.String(), "hello")
}
