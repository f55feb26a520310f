package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		token, err := GenerateOpaqueToken()
		require.NoError(t, err)

		_, dup := seen[token]
		require.False(t, dup, "token collision after %d generations", i)
		seen[token] = struct{}{}
	}
}

func TestGenerateOpaqueTokenLength(t *testing.T) {
	token, err := GenerateOpaqueToken()
	require.NoError(t, err)

	// Two 24-byte random halves alone are 64 base64 characters.
	assert.GreaterOrEqual(t, len(token), 64)
}
