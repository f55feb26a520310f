package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veltix/auth-api/internal/database"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrRoleNotFound   = errors.New("role not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Repository handles user and role data persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// CreateParams captures everything a registration or social signup may set.
type CreateParams struct {
	Email                  string
	PasswordHash           *string // nil for social-only accounts
	EmailVerificationToken *string
	EmailVerifiedAt        *time.Time
	RoleIDs                []int64
}

// Create inserts a new user and attaches the given roles in one transaction.
func (r *Repository) Create(ctx context.Context, params CreateParams) (*User, error) {
	now := time.Now()
	dbUser := &database.User{
		ID:                     uuid.New(),
		Email:                  params.Email,
		PasswordHash:           params.PasswordHash,
		EmailVerificationToken: params.EmailVerificationToken,
		EmailVerifiedAt:        params.EmailVerifiedAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(dbUser).Exec(ctx); err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		for _, roleID := range params.RoleIDs {
			userRole := &database.UserRole{UserID: dbUser.ID, RoleID: roleID}
			if _, err := tx.NewInsert().Model(userRole).Exec(ctx); err != nil {
				return fmt.Errorf("failed to attach role %d: %w", roleID, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(params.RoleIDs) > 0 {
		return r.GetByID(ctx, dbUser.ID, true)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email, optionally eager-loading the
// role -> permission graph.
func (r *Repository) GetByEmail(ctx context.Context, email string, withRoles bool) (*User, error) {
	dbUser := new(database.User)
	q := r.db.NewSelect().
		Model(dbUser).
		Where("u.email = ?", email)
	if withRoles {
		q = q.Relation("Roles").Relation("Roles.Permissions")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by ID, optionally eager-loading the
// role -> permission graph.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, withRoles bool) (*User, error) {
	dbUser := new(database.User)
	q := r.db.NewSelect().
		Model(dbUser).
		Where("u.id = ?", id)
	if withRoles {
		q = q.Relation("Roles").Relation("Roles.Permissions")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetRoleBySlug retrieves a role with its permissions.
func (r *Repository) GetRoleBySlug(ctx context.Context, slug string) (*Role, error) {
	dbRole := new(database.Role)
	err := r.db.NewSelect().
		Model(dbRole).
		Relation("Permissions").
		Where("r.slug = ?", slug).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role by slug: %w", err)
	}

	role := mapDBRoleToModel(dbRole)
	return &role, nil
}

// UpdatePassword updates a user's password hash
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return requireRowsAffected(result)
}

// Block stamps blocked_at, disabling the account until manual intervention.
func (r *Repository) Block(ctx context.Context, userID uuid.UUID, at time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("blocked_at = ?", at).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}

	return requireRowsAffected(result)
}

// MarkEmailVerified stamps email_verified_at and clears the verification token
func (r *Repository) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verified_at = ?", time.Now()).
		Set("email_verification_token = ?", nil).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark email as verified: %w", err)
	}

	return requireRowsAffected(result)
}

// UpdateVerificationToken regenerates the verification token for resend.
// Only applies while the email is still unverified.
func (r *Repository) UpdateVerificationToken(ctx context.Context, userID uuid.UUID, token string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verification_token = ?", token).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Where("email_verified_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update verification token: %w", err)
	}

	return requireRowsAffected(result)
}

// SetTwoFactorPending stores a fresh secret with enabled left null (pending).
// Repeated calls regenerate the pending secret.
func (r *Repository) SetTwoFactorPending(ctx context.Context, userID uuid.UUID, secret string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("two_factor_secret = ?", secret).
		Set("two_factor_enabled = ?", nil).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set pending two factor secret: %w", err)
	}

	return requireRowsAffected(result)
}

// ConfirmTwoFactor flips the pending enrollment to enabled.
func (r *Repository) ConfirmTwoFactor(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("two_factor_enabled = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm two factor: %w", err)
	}

	return requireRowsAffected(result)
}

// DisableTwoFactor clears the secret and marks two factor disabled.
func (r *Repository) DisableTwoFactor(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("two_factor_secret = ?", nil).
		Set("two_factor_enabled = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to disable two factor: %w", err)
	}

	return requireRowsAffected(result)
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError matches unique violations across Postgres and sqlite.
func isDuplicateKeyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// FromDatabase converts the database model to the domain model. Exposed for
// components that load users through their own queries (token rotation).
func FromDatabase(dbu *database.User) *User {
	return mapDBUserToModel(dbu)
}

// mapDBUserToModel converts the database model to the domain model and
// flattens the role -> permission graph onto the user.
func mapDBUserToModel(dbu *database.User) *User {
	u := &User{
		ID:                     dbu.ID,
		Email:                  dbu.Email,
		PasswordHash:           dbu.PasswordHash,
		BlockedAt:              dbu.BlockedAt,
		TwoFactorEnabled:       dbu.TwoFactorEnabled,
		TwoFactorSecret:        dbu.TwoFactorSecret,
		EmailVerifiedAt:        dbu.EmailVerifiedAt,
		EmailVerificationToken: dbu.EmailVerificationToken,
		CreatedAt:              dbu.CreatedAt,
		UpdatedAt:              dbu.UpdatedAt,
	}

	seen := map[string]struct{}{}
	for _, dbRole := range dbu.Roles {
		role := mapDBRoleToModel(dbRole)
		u.Roles = append(u.Roles, role)
		for _, slug := range role.Permissions {
			if _, ok := seen[slug]; ok {
				continue
			}
			seen[slug] = struct{}{}
			u.Permissions = append(u.Permissions, slug)
		}
	}

	return u
}

func mapDBRoleToModel(dbr *database.Role) Role {
	role := Role{
		ID:   dbr.ID,
		Name: dbr.Name,
		Slug: dbr.Slug,
	}
	for _, p := range dbr.Permissions {
		role.Permissions = append(role.Permissions, p.Slug)
	}
	return role
}
