package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantLevel []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"info", []string{"INFO", "WARN", "ERROR"}},
		{"warn", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
		{"", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			out := &bytes.Buffer{}
			l, err := New(&Config{Level: tt.level, Format: "json", writer: out})
			require.NoError(t, err)

			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e", slog.String("page", "3"))

			var got []string
			for _, e := range decodeLines(t, out) {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.wantLevel, got)
		})
	}
}

func TestNew_Console(t *testing.T) {
	out := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "console", writer: out})
	require.NoError(t, err)

	l.Info("page fetched", slog.Int("page", 2))

	// tint abbreviates levels
	assert.Contains(t, out.String(), "INF")
	assert.Contains(t, out.String(), "page fetched")
	assert.Contains(t, out.String(), "page=")
}

func TestNew_Source(t *testing.T) {
	out := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: out})
	require.NoError(t, err)

	l.Info("with source")

	entries := decodeLines(t, out)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	for i := 0; i < 2; i++ {
		l, err := New(&Config{Level: "info", Format: "json", Output: path})
		require.NoError(t, err)
		l.Info("run finished", slog.Int("pass", i))
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2, "file is appended, not truncated")
}

func TestNew_FileOutputError(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.NotNil(t, l.Logger)
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		// case-sensitive
		{"DEBUG", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroupAndAttrs(t *testing.T) {
	out := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "json", writer: out})
	require.NoError(t, err)

	l.With(slog.String("scraper", "ostjob")).
		WithGroup("report").
		Info("run finished", slog.Int("created", 9))

	entries := decodeLines(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "ostjob", entries[0]["scraper"])
	report := entries[0]["report"].(map[string]any)
	assert.Equal(t, float64(9), report["created"])
}
