package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithOwnerKeepsParentFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	lg := WithOwner(WithComponent("api"), "2fc1c0beb992cd7096975cfebf9d5c3b")
	lg.Info().Msg("start failed")

	out := buf.String()
	assert.Contains(t, out, `"component":"api"`)
	assert.Contains(t, out, `"owner":"2fc1c0beb992cd7096975cfebf9d5c3b"`)
	assert.NotContains(t, out, "alice", "raw identity must never be logged")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "sid-123", ShortID("sid-1234567890"))
	assert.Equal(t, "sid", ShortID("sid"))
	assert.Equal(t, "", ShortID(""))
}
