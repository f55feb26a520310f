package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xlzd/gotp"
)

func TestTwoFactorEngineVerifyCode(t *testing.T) {
	engine := NewTwoFactorEngine("auth-api")
	secret := engine.GenerateSecret()
	require.NotEmpty(t, secret)

	code := gotp.NewDefaultTOTP(secret).Now()
	assert.True(t, engine.VerifyCode(secret, code))
}

func TestTwoFactorEngineVerifyCodeWithSkew(t *testing.T) {
	engine := NewTwoFactorEngine("auth-api")
	secret := engine.GenerateSecret()

	previous := gotp.NewDefaultTOTP(secret).At(time.Now().Unix() - totpStepSeconds)
	assert.True(t, engine.VerifyCode(secret, previous))
}

func TestTwoFactorEngineRejectsBadCode(t *testing.T) {
	engine := NewTwoFactorEngine("auth-api")
	secret := engine.GenerateSecret()

	assert.False(t, engine.VerifyCode(secret, "000000"))
	assert.False(t, engine.VerifyCode(secret, ""))
	assert.False(t, engine.VerifyCode("", "123456"))
}

func TestTwoFactorEngineProvisioningURI(t *testing.T) {
	engine := NewTwoFactorEngine("auth-api")
	secret := engine.GenerateSecret()

	uri := engine.ProvisioningURI(secret, "user@example.com")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))
	assert.Contains(t, uri, "auth-api")
}

func TestTwoFactorEngineQRCodeDataURL(t *testing.T) {
	engine := NewTwoFactorEngine("auth-api")
	secret := engine.GenerateSecret()
	uri := engine.ProvisioningURI(secret, "user@example.com")

	dataURL, err := engine.QRCodeDataURL(uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
}
