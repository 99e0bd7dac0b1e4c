package dashboard

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSessionID(t *testing.T) {
	sid := uuid.New()
	data, err := json.Marshal(map[string]any{"session_id": sid.String(), "user_id": uuid.New().String()})
	require.NoError(t, err)

	got, err := extractSessionID(data)
	require.NoError(t, err)
	assert.Equal(t, sid, got)
}

func TestExtractSessionID_MalformedPayload(t *testing.T) {
	_, err := extractSessionID(json.RawMessage(`{"session_id": 12345}`))
	assert.Error(t, err)
}
