package authsvc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// APIKeyPrefix marks every raw key so leaked keys are grep-able in logs
// and source control scanners (`bld_` + 32 random bytes, base64url).
const APIKeyPrefix = "bld_"

// GenerateAPIKey returns a new raw API key. The raw value is shown to
// the user exactly once; only its hash is persisted.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey derives the stored, lookup-able hash for a raw API key.
//
// Unlike HashPassword, this hash must support exact-match lookup
// (GetAPIKeyByHash), so it cannot use a per-call random salt. Instead
// the salt is derived deterministically from the server secret, and the
// raw key itself supplies the entropy an attacker would need: without
// secret, an offline guesser still has to run argon2id per guess, and
// without the raw key, secret alone does not produce the hash.
func HashAPIKey(secret []byte, rawKey string) string {
	salt := sha256.Sum256(append([]byte("alloybuild-apikey-salt-v1:"), secret...))
	hash := argon2.IDKey([]byte(rawKey), salt[:16], defaultParams.iterations, defaultParams.memoryKiB, defaultParams.threads, defaultParams.keyLen)
	return hex.EncodeToString(hash)
}
