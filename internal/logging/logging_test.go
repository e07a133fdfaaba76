package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: FormatJSON}, &buf)
	require.NoError(t, err)

	clog := Component(log, "sanitize")
	clog.Info().Str("diff", "d1").Msg("scanned")
	log.Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sanitize", entry["component"])
	assert.Equal(t, "d1", entry["diff"])
	assert.Equal(t, "scanned", entry["message"])
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", NoColor: true}, &buf)
	require.NoError(t, err)
	log.Warn().Msg("careful")
	assert.Contains(t, buf.String(), "careful")
	assert.Contains(t, buf.String(), "WRN")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "commitgate.log")
	log, err := New(Config{Level: "debug", File: path}, nil)
	require.NoError(t, err)
	log.Debug().Msg("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to file"`)
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNew_NoWriters(t *testing.T) {
	log, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	log.Error().Msg("dropped")
}
