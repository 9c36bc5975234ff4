package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggingWritesVictoriaKeys(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	buf := new(bytes.Buffer)
	InitLogging(buf, "debug", slog.String("service_type", "write_records_single"))

	slog.Debug("vocabulary built", "vocab_size", 12, "code", VOCAB_BUILD)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "vocabulary built", entry["_msg"])
	assert.Contains(t, entry, "_time")
	assert.NotContains(t, entry, "msg")
	assert.Equal(t, "write_records_single", entry["service_type"])
	assert.Equal(t, string(VOCAB_BUILD), entry["code"])
	assert.EqualValues(t, 12, entry["vocab_size"])
}

func TestInitLoggingRespectsLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	buf := new(bytes.Buffer)
	InitLogging(buf, "warn")

	slog.Info("dropped")
	assert.Empty(t, buf.String())

	slog.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
