package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/veltix/auth-api/internal/database"
)

var ErrPasswordResetTokenNotFound = errors.New("password reset token not found")

// passwordResetTokenTTL bounds how long a reset token stays redeemable.
const passwordResetTokenTTL = 1 * time.Hour

// PasswordResetRepository handles reset token persistence. At most one live
// record exists per email; repeated requests overwrite token and expiry.
type PasswordResetRepository struct {
	db *bun.DB
}

func NewPasswordResetRepository(db *bun.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Upsert stores a reset token for the email, replacing any existing record.
func (r *PasswordResetRepository) Upsert(ctx context.Context, email, token string) error {
	expiresAt := time.Now().Add(passwordResetTokenTTL)

	existing := new(database.PasswordReset)
	err := r.db.NewSelect().
		Model(existing).
		Where("pr.email = ?", email).
		Scan(ctx)
	switch {
	case err == nil:
		_, err = r.db.NewUpdate().
			Model((*database.PasswordReset)(nil)).
			Set("token = ?", token).
			Set("expires_at = ?", expiresAt).
			Where("id = ?", existing.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update password reset: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		reset := &database.PasswordReset{
			Email:     email,
			Token:     token,
			ExpiresAt: expiresAt,
		}
		if _, err := r.db.NewInsert().Model(reset).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create password reset: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up password reset: %w", err)
	}

	return nil
}

// GetByToken retrieves a reset record by token value.
func (r *PasswordResetRepository) GetByToken(ctx context.Context, token string) (*database.PasswordReset, error) {
	reset := new(database.PasswordReset)
	err := r.db.NewSelect().
		Model(reset).
		Where("pr.token = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPasswordResetTokenNotFound
		}
		return nil, fmt.Errorf("failed to get password reset: %w", err)
	}

	return reset, nil
}

// Delete removes a reset record (consumed or stale).
func (r *PasswordResetRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.NewDelete().
		Model((*database.PasswordReset)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete password reset: %w", err)
	}

	return nil
}
