package authsvc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, VerifyPassword("correct horse battery staple", hash))
	assert.False(t, VerifyPassword("wrong password", hash))
}

func TestHashPasswordUniqueSalt(t *testing.T) {
	a, err := HashPassword("same password")
	require.NoError(t, err)
	b, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two hashes of the same password must differ by salt")
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	token, err := issuer.Issue("user-123")
	require.NoError(t, err)

	sub, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), -time.Minute)
	token, err := issuer.Issue("user-123")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), time.Hour)
	token, err := issuer.Issue("user-123")
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("secret-b"), time.Hour)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestGenerateAPIKeyHasPrefix(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
}

func TestHashAPIKeyDeterministicForLookup(t *testing.T) {
	secret := []byte("server-secret")
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	h1 := HashAPIKey(secret, key)
	h2 := HashAPIKey(secret, key)
	assert.Equal(t, h1, h2, "hash must be stable so GetAPIKeyByHash can look it up")

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, h1, HashAPIKey(secret, other))
}

func TestHashAPIKeyDependsOnSecret(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, HashAPIKey([]byte("secret-a"), key), HashAPIKey([]byte("secret-b"), key))
}
