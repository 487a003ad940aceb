// Package authsvc implements the authentication back-end's local
// contract: verify_token(token) -> user_id and verify_api_key(hash) ->
// (key_id, user_id), plus the password/JWT/API-key machinery behind it.
// Argon2id is used for both password and API key hashing.
package authsvc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2Params mirrors the defaults used by the original Rust
// implementation's argon2 crate: two iterations over a 19 MiB
// window. These are intentionally the library defaults, not tuned, since
// a macOS build host is CPU-rich and request volume to /auth is low.
type argon2Params struct {
	memoryKiB  uint32
	iterations uint32
	threads    uint8
	saltLen    uint32
	keyLen     uint32
}

var defaultParams = argon2Params{
	memoryKiB:  19 * 1024,
	iterations: 2,
	threads:    1,
	saltLen:    16,
	keyLen:     32,
}

// HashPassword returns a PHC-style string encoding algorithm, params,
// salt, and hash, analogous to the Rust argon2 crate's PasswordHasher
// output.
func HashPassword(password string) (string, error) {
	return hashWithParams(password, defaultParams)
}

func hashWithParams(password string, p argon2Params) (string, error) {
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.iterations, p.memoryKiB, p.threads, p.keyLen)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.memoryKiB, p.iterations, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against a PHC-format hash
// produced by HashPassword.
func VerifyPassword(password, encoded string) bool {
	p, salt, hash, err := decodePHC(encoded)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(password), salt, p.iterations, p.memoryKiB, p.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

func decodePHC(encoded string) (argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// ["", "argon2id", "v=19", "m=...,t=...,p=...", "<salt>", "<hash>"]
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed hash")
	}

	var p argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memoryKiB, &p.iterations, &p.threads); err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argon2Params{}, nil, nil, fmt.Errorf("malformed hash: %w", err)
	}
	return p, salt, hash, nil
}
