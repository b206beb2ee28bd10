package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithCorrelationID(42).Info().Msg("hello")

	assert.Contains(t, buf.String(), `"correlation_id":42`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestWithSessionID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithSessionID(7).Debug().Msg("session closed")

	assert.Contains(t, buf.String(), `"session_id":7`)
	assert.Contains(t, buf.String(), `"message":"session closed"`)
}
