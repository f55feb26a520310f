package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Token types stored in the tokens table.
const (
	TokenTypeRefresh = "REFRESH"
	TokenTypeAPI     = "API"
)

// User is the identity record. Optional feature columns (two factor, email
// verification) are always present and nullable; feature flags gate behavior,
// not schema shape.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	Email        string    `bun:"email,notnull,unique"`
	PasswordHash *string   `bun:"password_hash"` // nil for social-only accounts

	// Presence of BlockedAt disables the account. Set by the refresh token
	// compromise path; cleared manually.
	BlockedAt *time.Time `bun:"blocked_at"`

	// Tri-state: nil = never configured, false = disabled, true = enabled.
	// A pending enrollment is secret set + enabled nil.
	TwoFactorEnabled *bool   `bun:"two_factor_enabled"`
	TwoFactorSecret  *string `bun:"two_factor_secret"`

	EmailVerifiedAt        *time.Time `bun:"email_verified_at"`
	EmailVerificationToken *string    `bun:"email_verification_token"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`

	Roles []*Role `bun:"m2m:user_roles,join:User=Role"`
}

// Role is a named permission group. The slugs "authenticated" and "public"
// are reserved: the former is attached at registration, the latter backs the
// synthetic principal for unauthenticated requests.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
	Slug string `bun:"slug,notnull,unique"`

	Permissions []*Permission `bun:"m2m:role_permissions,join:Role=Permission"`
}

// Permission is a named capability. Slugs have the shape
// "<action>:<resource-slug>" with action one of insert, fetch, show, update,
// delete.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
	Slug string `bun:"slug,notnull,unique"`
}

// UserRole joins users to roles.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	UserID uuid.UUID `bun:"user_id,pk,type:uuid"`
	User   *User     `bun:"rel:belongs-to,join:user_id=id"`
	RoleID int64     `bun:"role_id,pk"`
	Role   *Role     `bun:"rel:belongs-to,join:role_id=id"`
}

// RolePermission joins roles to permissions.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`

	RoleID       int64       `bun:"role_id,pk"`
	Role         *Role       `bun:"rel:belongs-to,join:role_id=id"`
	PermissionID int64       `bun:"permission_id,pk"`
	Permission   *Permission `bun:"rel:belongs-to,join:permission_id=id"`
}

// Token is an issued refresh (or API) token. Refresh tokens are single-use:
// LastUsedAt marks consumption, CompromisedAt marks detected reuse.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:t"`

	ID            int64      `bun:"id,pk,autoincrement"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	Type          string     `bun:"type,notnull"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id"`
	LastUsedAt    *time.Time `bun:"last_used_at"`
	CompromisedAt *time.Time `bun:"compromised_at"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
}

// OAuthIdentity links a social provider account to a user. UserID stays nil
// until the temporal token handoff completes.
type OAuthIdentity struct {
	bun.BaseModel `bun:"table:oauth_identities,alias:oi"`

	ID             int64      `bun:"id,pk,autoincrement"`
	Provider       string     `bun:"provider,notnull"`
	ProviderUserID string     `bun:"provider_user_id,notnull"`
	Email          string     `bun:"email,notnull"`
	AccessToken    string     `bun:"access_token,notnull" json:"-"`
	TemporalToken  *string    `bun:"temporal_token"`
	Payload        string     `bun:"payload,notnull" json:"-"` // serialized provider profile
	UserID         *uuid.UUID `bun:"user_id,type:uuid"`
	User           *User      `bun:"rel:belongs-to,join:user_id=id"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
}

// PasswordReset is an ephemeral reset record. At most one live row per email;
// repeated requests overwrite the token and expiry.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pr"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Email     string    `bun:"email,notnull,unique"`
	Token     string    `bun:"token,notnull,unique"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

// Team and TeamInvite complete the identity data-model graph. No flows are
// built on them here.
type Team struct {
	bun.BaseModel `bun:"table:teams,alias:tm"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull"`
	OwnerID   uuid.UUID `bun:"owner_id,notnull,type:uuid"`
	Owner     *User     `bun:"rel:belongs-to,join:owner_id=id"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type TeamInvite struct {
	bun.BaseModel `bun:"table:team_invites,alias:ti"`

	ID        int64     `bun:"id,pk,autoincrement"`
	TeamID    int64     `bun:"team_id,notnull"`
	Team      *Team     `bun:"rel:belongs-to,join:team_id=id"`
	Email     string    `bun:"email,notnull"`
	Token     string    `bun:"token,notnull,unique"`
	Role      string    `bun:"role,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}
