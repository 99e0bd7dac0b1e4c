package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM = string(pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	return privPEM, pubPEM
}

func TestJWTManager_RoundTrip(t *testing.T) {
	priv, pub := testKeyPair(t)
	jm, err := NewJWTManager(priv, pub)
	require.NoError(t, err)

	userID := uuid.New()
	token, err := jm.GenerateToken(userID, []int64{111, 222}, time.Hour)
	require.NoError(t, err)

	claims, err := jm.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, []int64{111, 222}, claims.TenantExternalIDs)
}

func TestJWTManager_RejectsExpired(t *testing.T) {
	priv, pub := testKeyPair(t)
	jm, err := NewJWTManager(priv, pub)
	require.NoError(t, err)

	token, err := jm.GenerateToken(uuid.New(), nil, -time.Minute)
	require.NoError(t, err)

	_, err = jm.ValidateToken(token)
	require.Error(t, err)
}

func TestExtractTokenFromHeader(t *testing.T) {
	tok, err := ExtractTokenFromHeader("Bearer abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", tok)

	_, err = ExtractTokenFromHeader("abc123")
	require.Error(t, err)
}
