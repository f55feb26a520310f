package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veltix/auth-api/internal/database"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// TokenRepository handles refresh token persistence. Mutating methods accept
// a bun.IDB so the rotation manager can run them inside one transaction.
type TokenRepository struct {
	db *bun.DB
}

func NewTokenRepository(db *bun.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// RunInTx runs fn inside a store transaction.
func (r *TokenRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, fn)
}

// DB exposes the underlying handle for non-transactional reads.
func (r *TokenRepository) DB() bun.IDB {
	return r.db
}

// FindRefreshByValue looks up an unexpired-or-not refresh token row by its
// opaque value, joined to its owner. The caller decides what expiry or usage
// state means.
func (r *TokenRepository) FindRefreshByValue(ctx context.Context, idb bun.IDB, value string, withRoles bool) (*database.Token, error) {
	token := new(database.Token)
	q := idb.NewSelect().
		Model(token).
		Relation("User").
		Where("t.token = ?", value).
		Where("t.type = ?", database.TokenTypeRefresh)
	if withRoles {
		q = q.Relation("User.Roles").Relation("User.Roles.Permissions")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// ExpireAllForUser bulk-expires every refresh token belonging to the user,
// marking them inert without deleting. The bulk update bypasses hydration.
func (r *TokenRepository) ExpireAllForUser(ctx context.Context, idb bun.IDB, userID uuid.UUID, at time.Time) error {
	_, err := idb.NewUpdate().
		Model((*database.Token)(nil)).
		Set("expires_at = ?", at).
		Set("last_used_at = ?", at).
		Where("user_id = ?", userID).
		Where("type = ?", database.TokenTypeRefresh).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to expire refresh tokens: %w", err)
	}

	return nil
}

// Insert stores a new token row.
func (r *TokenRepository) Insert(ctx context.Context, idb bun.IDB, token *database.Token) error {
	if _, err := idb.NewInsert().Model(token).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// ConsumeIfUnused marks the token used and invalid for future comparisons,
// guarded by last_used_at still being null. Returns false when another
// request consumed the same value first: that is the double-spend signal.
func (r *TokenRepository) ConsumeIfUnused(ctx context.Context, idb bun.IDB, tokenID int64, now time.Time) (bool, error) {
	result, err := idb.NewUpdate().
		Model((*database.Token)(nil)).
		Set("last_used_at = ?", now).
		Set("expires_at = ?", now.Add(-time.Second)).
		Where("id = ?", tokenID).
		Where("last_used_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// MarkCompromised stamps compromised_at on the token and blocked_at on its
// owner. Human intervention is required to lift the block.
func (r *TokenRepository) MarkCompromised(ctx context.Context, idb bun.IDB, token *database.Token, at time.Time) error {
	_, err := idb.NewUpdate().
		Model((*database.Token)(nil)).
		Set("compromised_at = ?", at).
		Where("id = ?", token.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark token compromised: %w", err)
	}

	_, err = idb.NewUpdate().
		Model((*database.User)(nil)).
		Set("blocked_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", token.UserID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to block token owner: %w", err)
	}

	return nil
}

// Delete removes a token row.
func (r *TokenRepository) Delete(ctx context.Context, idb bun.IDB, tokenID int64) error {
	_, err := idb.NewDelete().
		Model((*database.Token)(nil)).
		Where("id = ?", tokenID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	return nil
}

// CleanupExpired removes long-dead token rows. Run periodically; rotation
// correctness never depends on it because expiry is checked on read.
func (r *TokenRepository) CleanupExpired(ctx context.Context, olderThan time.Duration) error {
	_, err := r.db.NewDelete().
		Model((*database.Token)(nil)).
		Where("expires_at < ?", time.Now().Add(-olderThan)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	return nil
}
