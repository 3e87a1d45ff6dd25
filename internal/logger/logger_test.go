package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gitwatch/internal/config"
)

// restoreGlobals puts the global logger and level back after a test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	origLogger, origLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = origLogger
		zerolog.SetGlobalLevel(origLevel)
	})
}

func TestInitWriter_JSON(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	InitWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("credential", "abc123").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "abc123", entry["credential"])
	assert.Contains(t, entry, "time")
}

func TestInitWriter_Text(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	InitWriter(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	log.Debug().Msg("console line")

	assert.Contains(t, buf.String(), "console line")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
}
