package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the request-facing identity record. Permissions is the flattened
// set of permission slugs from every role, computed at load time.
type User struct {
	ID                     uuid.UUID  `json:"id"`
	Email                  string     `json:"email"`
	PasswordHash           *string    `json:"-"`
	BlockedAt              *time.Time `json:"blocked_at,omitempty"`
	TwoFactorEnabled       *bool      `json:"two_factor_enabled,omitempty"`
	TwoFactorSecret        *string    `json:"-"`
	EmailVerifiedAt        *time.Time `json:"email_verified_at,omitempty"`
	EmailVerificationToken *string    `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`

	Roles       []Role   `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Role is a named permission group attached to a user.
type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Permissions []string `json:"permissions,omitempty"`
}

// Blocked reports whether the account is disabled.
func (u *User) Blocked() bool {
	return u.BlockedAt != nil
}

// TwoFactorConfirmed reports whether two factor auth is fully enabled. A
// pending enrollment (secret set, enabled still nil) does not count.
func (u *User) TwoFactorConfirmed() bool {
	return u.TwoFactorEnabled != nil && *u.TwoFactorEnabled
}

// HasPermission checks the flattened permission set.
func (u *User) HasPermission(slug string) bool {
	for _, p := range u.Permissions {
		if p == slug {
			return true
		}
	}
	return false
}
