package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenService defines the interface for access token creation and validation.
// Implementations include PasetoService (PASETO v4.local) and JWTService (HS256).
type TokenService interface {
	CreateToken(userID uuid.UUID, duration time.Duration) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// Mailer is the narrow outbound mail contract consumed by the flows.
type Mailer interface {
	To(address string) MailMessage
}

// MailMessage sends a raw body to the address it was created for.
type MailMessage interface {
	SendRaw(ctx context.Context, body string) error
}
