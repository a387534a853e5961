package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = ActionResolvedEvent{
	ActionID:      7,
	Kind:          "PUBLISH_MINOR",
	Catalogue:     "MTX",
	Version:       "1.2.3",
	ResultVersion: "1.3.0",
	Level:         "MINOR",
	Requester:     "alice",
	LogID:         "L-7",
	Outcome:       "OK",
	ResolvedAt:    "2026-01-02T03:04:05Z",
}

func TestFormatLine(t *testing.T) {
	line := FormatLine(sample)
	assert.True(t, strings.HasPrefix(line, "[2026-01-02T03:04:05Z] Action resolved | action_id=7 | kind=PUBLISH_MINOR"))
	assert.Contains(t, line, "catalogue=MTX@1.2.3 | result=MTX@1.3.0")
	assert.Contains(t, line, "level=MINOR")
	assert.NotContains(t, line, "error=")
	assert.True(t, strings.HasSuffix(line, "\n"))

	failed := sample
	failed.Error = "publish MTX@1.2.3: not found"
	assert.Contains(t, FormatLine(failed), `error="publish MTX@1.2.3: not found"`)
}

func TestHandleMessageAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	body, err := json.Marshal(sample)
	require.NoError(t, err)

	require.NoError(t, HandleMessage(dir, body))
	require.NoError(t, HandleMessage(dir, body))

	b, err := os.ReadFile(filepath.Join(dir, "actions.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "Action resolved"))
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, HandleMessage(dir, []byte("not json")))
	assert.Error(t, HandleMessage(dir, []byte(`{"action_id":1}`)))
	_, err := os.Stat(filepath.Join(dir, "actions.log"))
	assert.True(t, os.IsNotExist(err))
}
