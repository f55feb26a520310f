package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))
	assert.True(t, VerifyPassword(hash, "correct horse battery staple"))
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	first, err := HashPassword("same password")
	require.NoError(t, err)
	second, err := HashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, VerifyPassword(first, "same password"))
	assert.True(t, VerifyPassword(second, "same password"))
}

func TestVerifyPasswordMismatch(t *testing.T) {
	hash, err := HashPassword("right")
	require.NoError(t, err)

	assert.False(t, VerifyPassword(hash, "wrong"))
	assert.False(t, VerifyPassword(hash, ""))
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("", "password"))
	assert.False(t, VerifyPassword("not-a-hash", "password"))
	assert.False(t, VerifyPassword("$argon2id$v=19$garbage", "password"))
}
