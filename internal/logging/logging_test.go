package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Options{Level: "debug", Format: "json", Output: &buf}), "sweep")
	logger.Debug().Int("issue", 7).Msg("marked stale")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sweep", entry["component"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, float64(7), entry["issue"])
	assert.Contains(t, entry, "time")
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "chatty", Output: &buf})
	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
