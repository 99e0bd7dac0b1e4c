package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey_VerifiesRoundTrip(t *testing.T) {
	secret, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, len(secret) > len(KeyPrefix))
	assert.True(t, VerifySecret(hash, secret))
	assert.False(t, VerifySecret(hash, secret+"x"))
}

func TestVerifySecret_RejectsMalformedHash(t *testing.T) {
	assert.False(t, VerifySecret("not-a-hash", "anything"))
	assert.False(t, VerifySecret("", ""))
}
