package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/argon2"
)

const (
	saltLength = 16
	keyLength  = 32
	// Recommended Argon2id parameters (OWASP).
	timeCost    = 1
	memoryCost  = 64 * 1024 // 64MB
	parallelism = 4

	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	secretLength   = 32
	// KeyPrefix makes automation keys greppable in logs without
	// exposing the secret itself.
	KeyPrefix = "tbup_"
)

// GenerateAPIKey returns a new plaintext secret and its Argon2id hash.
// Only the hash is persisted; the plaintext is shown to the caller
// exactly once.
func GenerateAPIKey() (secret, hash string, err error) {
	id, err := gonanoid.Generate(secretAlphabet, secretLength)
	if err != nil {
		return "", "", fmt.Errorf("generate api key secret: %w", err)
	}
	secret = KeyPrefix + id
	hash, err = HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

func generateSalt(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HashSecret hashes an API key secret using Argon2id with a random salt.
func HashSecret(secret string) (string, error) {
	salt, err := generateSalt(saltLength)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(secret), salt, timeCost, memoryCost, parallelism, keyLength)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedHash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, memoryCost, timeCost, parallelism, encodedSalt, encodedHash), nil
}

// VerifySecret checks a plaintext secret against its stored hash.
// Parsed by splitting on '$' rather than fmt.Sscanf, since %s is
// whitespace- not '$'-delimited and would swallow the whole remainder.
func VerifySecret(hashed, secret string) bool {
	parts := strings.Split(hashed, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var mem, tcost, p int
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &tcost, &p); err != nil {
		return false
	}
	decodedSalt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	newHash := argon2.IDKey([]byte(secret), decodedSalt, uint32(tcost), uint32(mem), uint8(p), uint32(keyLength))
	return constantTimeEqual(newHash, decodedHash)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
