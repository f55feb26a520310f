package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// processNonce is generated once per process and combined with a monotonic
// counter so two tokens can never collide even across concurrent calls with
// an unlucky random source.
var (
	processNonce = func() string {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic(fmt.Sprintf("failed to read crypto/rand: %v", err))
		}
		return hex.EncodeToString(b)
	}()
	tokenCounter atomic.Uint64
)

// GenerateOpaqueToken creates a non-decodable random token used purely as a
// lookup key: refresh tokens, email verification tokens, password reset
// tokens, OAuth temporal tokens. Two independently generated random strings
// around a process-unique id component give well over 128 bits of entropy.
func GenerateOpaqueToken() (string, error) {
	first, err := randomString(24)
	if err != nil {
		return "", err
	}
	second, err := randomString(24)
	if err != nil {
		return "", err
	}

	unique := fmt.Sprintf("%s%x", processNonce, tokenCounter.Add(1))

	return first + unique + second, nil
}

func randomString(numBytes int) (string, error) {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random string: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
