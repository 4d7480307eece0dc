package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "json", "warn")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", slog.String("component", "test"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "test", rec["component"])
}

func TestNewWithWriterRejectsUnknownFormat(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "xml", "info")
	assert.Error(t, err)
}

func TestNewWritesRotatingFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogFormat = "text"
	cfg.LogFile.Path = filepath.Join(t.TempDir(), "scraper.log")

	logger, closer, err := New(&cfg)
	require.NoError(t, err)
	logger.Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.LogFile.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}
