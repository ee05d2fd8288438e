package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("level and json output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "warn", "json")

		logger.Info("hidden")
		logger.Warn("shown", "issuer", "AAPL")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "shown", entry["msg"])
		assert.Equal(t, "AAPL", entry["issuer"])
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "chatty", "logfmt")

		assert.Equal(t, log.InfoLevel, logger.GetLevel())
		assert.Contains(t, buf.String(), "unknown log level")
	})
}
