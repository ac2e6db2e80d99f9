package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certflow/internal/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestNewLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{
		ServiceName:       "certflow-worker",
		InstanceID:        "w-1",
		TemporalTaskQueue: "certflow-tasks",
		LogLevel:          "debug",
	})

	logger.Debug().Msg("hello")
	line := decodeLine(t, &buf)
	assert.Equal(t, "certflow-worker", line["service"])
	assert.Equal(t, "w-1", line["instance"])
	assert.Equal(t, "certflow-tasks", line["task_queue"])
	assert.Equal(t, "hello", line["message"])
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{LogLevel: "chatty"})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestTemporalLogger_KeyVals(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTemporalLogger(zerolog.New(&buf))

	tl.Error("renewal failed", "resourceID", "r1", "error", errors.New("boom"), "attempt", 2)
	line := decodeLine(t, &buf)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "renewal failed", line["message"])
	assert.Equal(t, "r1", line["resourceID"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, float64(2), line["attempt"])
}

func TestTemporalLogger_With(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTemporalLogger(zerolog.New(&buf)).With("WorkflowID", "wf-1", "dangling")

	tl.Info("started")
	line := decodeLine(t, &buf)
	assert.Equal(t, "wf-1", line["WorkflowID"])
	assert.Equal(t, "dangling", line["extra"])
}
