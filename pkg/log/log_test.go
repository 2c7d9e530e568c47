package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRejectsUnknownLevel(t *testing.T) {
	err := Setup(Options{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestSetupLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Level: "warn", JSON: true, Output: &buf}))

	logger := WithComponent("storage")
	logger.Info().Msg("filtered out")
	logger.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "filtered out")
	assert.Contains(t, buf.String(), "kept")
}

func TestChildLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(Options{JSON: true, Output: &buf}))

	WithSubject("db-service", "rosey.db.kv.set").Info().Msg("handled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "db-service", line["component"])
	assert.Equal(t, "rosey.db.kv.set", line["subject"])

	buf.Reset()
	WithPlugin("quotes").Info().Msg("registered")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "quotes", line["plugin"])
}
