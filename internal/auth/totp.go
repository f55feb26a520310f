package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/xlzd/gotp"
)

const (
	totpSecretLength = 32
	totpStepSeconds  = 30
	qrCodeSize       = 256
)

// TwoFactorEngine generates TOTP secrets, provisioning payloads and verifies
// time-based one-time codes.
type TwoFactorEngine struct {
	issuer string
}

func NewTwoFactorEngine(issuer string) *TwoFactorEngine {
	return &TwoFactorEngine{issuer: issuer}
}

// GenerateSecret returns a fresh base32 TOTP secret.
func (e *TwoFactorEngine) GenerateSecret() string {
	return gotp.RandomSecret(totpSecretLength)
}

// ProvisioningURI builds the otpauth:// URI for authenticator apps.
func (e *TwoFactorEngine) ProvisioningURI(secret, account string) string {
	return gotp.NewDefaultTOTP(secret).ProvisioningUri(account, e.issuer)
}

// QRCodeDataURL renders the provisioning URI as a PNG data URL, ready for an
// <img /> tag.
func (e *TwoFactorEngine) QRCodeDataURL(provisioningURI string) (string, error) {
	png, err := qrcode.Encode(provisioningURI, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate qr code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// VerifyCode checks a submitted code against the secret with one time-step
// of tolerance either side to absorb clock skew.
func (e *TwoFactorEngine) VerifyCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}

	totp := gotp.NewDefaultTOTP(secret)
	now := time.Now().Unix()

	return totp.Verify(code, now) ||
		totp.Verify(code, now-totpStepSeconds) ||
		totp.Verify(code, now+totpStepSeconds)
}
