package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/veltix/auth-api/internal/database"
	"github.com/veltix/auth-api/internal/logging"
	"github.com/veltix/auth-api/internal/user"
)

// RotationManager owns the refresh token lifecycle: issue on login, rotate
// on redemption, compromise detection on reuse. Refresh tokens are strictly
// single-use; redeeming the same value twice blocks the account.
type RotationManager struct {
	tokens     *TokenRepository
	logger     *logging.Logger
	refreshTTL time.Duration
	withRoles  bool
}

func NewRotationManager(tokens *TokenRepository, logger *logging.Logger, refreshTTL time.Duration, withRoles bool) *RotationManager {
	return &RotationManager{
		tokens:     tokens,
		logger:     logger,
		refreshTTL: refreshTTL,
		withRoles:  withRoles,
	}
}

// RotationResult carries the outcome of a successful rotation.
type RotationResult struct {
	User         *user.User
	RefreshToken string
	ExpiresAt    time.Time
}

// Issue expires every existing refresh token for the user and persists
// exactly one fresh token. When inheritedExpiry is non-zero the new token
// keeps it instead of a full TTL: a rotation chain's absolute lifetime never
// extends past the original issuance window.
func (m *RotationManager) Issue(ctx context.Context, userID uuid.UUID, inheritedExpiry time.Time) (string, time.Time, error) {
	var value string
	var expiresAt time.Time

	err := m.tokens.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		issued, exp, err := m.issue(ctx, tx, userID, inheritedExpiry)
		if err != nil {
			return err
		}
		value, expiresAt = issued, exp
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}

	return value, expiresAt, nil
}

func (m *RotationManager) issue(ctx context.Context, idb bun.IDB, userID uuid.UUID, inheritedExpiry time.Time) (string, time.Time, error) {
	now := time.Now()

	if err := m.tokens.ExpireAllForUser(ctx, idb, userID, now.Add(-time.Second)); err != nil {
		return "", time.Time{}, err
	}

	value, err := GenerateOpaqueToken()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := now.Add(m.refreshTTL)
	if !inheritedExpiry.IsZero() {
		expiresAt = inheritedExpiry
	}

	token := &database.Token{
		Token:     value,
		Type:      database.TokenTypeRefresh,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := m.tokens.Insert(ctx, idb, token); err != nil {
		return "", time.Time{}, err
	}

	return value, expiresAt, nil
}

// ExpireAll force-expires every refresh token the user holds. Used when the
// password changes and on explicit logout.
func (m *RotationManager) ExpireAll(ctx context.Context, userID uuid.UUID) error {
	return m.tokens.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return m.tokens.ExpireAllForUser(ctx, tx, userID, time.Now().Add(-time.Second))
	})
}

// Rotate redeems a presented refresh token. Single transaction:
//
//   - unknown value fails authentication;
//   - a previously consumed value is treated as theft: the row is marked
//     compromised, the owner blocked, and the call fails;
//   - a missing owner or expired token deletes the row and fails;
//   - otherwise the token is consumed under a last_used_at-is-null guard
//     (losing that race is also treated as reuse) and a replacement token
//     inheriting the original expiry is issued.
//
// Rejection-path writes (the compromise stamps, the stale-row delete) must
// survive the failed redemption, so the closure commits them and returns nil;
// the authentication error is surfaced only after the transaction commits.
func (m *RotationManager) Rotate(ctx context.Context, presented string) (*RotationResult, error) {
	if presented == "" {
		return nil, NewAuthenticationError("Invalid refresh token.")
	}

	result := &RotationResult{}
	var denied error

	err := m.tokens.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()

		token, err := m.tokens.FindRefreshByValue(ctx, tx, presented, m.withRoles)
		if err != nil {
			if err == ErrRefreshTokenNotFound {
				return NewAuthenticationError("Invalid refresh token.")
			}
			return err
		}

		if token.LastUsedAt != nil {
			if err := m.compromised(ctx, tx, token, now); err != nil {
				return err
			}
			denied = NewAuthenticationError("Invalid refresh token.")
			return nil
		}

		if token.User == nil || token.ExpiresAt.Before(now) {
			if err := m.tokens.Delete(ctx, tx, token.ID); err != nil {
				return err
			}
			denied = NewAuthenticationError("Invalid refresh token.")
			return nil
		}

		consumed, err := m.tokens.ConsumeIfUnused(ctx, tx, token.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			// Lost the race against a concurrent redemption of the
			// same value. Same treatment as a straight reuse.
			if err := m.compromised(ctx, tx, token, now); err != nil {
				return err
			}
			denied = NewAuthenticationError("Invalid refresh token.")
			return nil
		}

		// The replacement inherits the consumed token's original expiry.
		value, expiresAt, err := m.issue(ctx, tx, token.UserID, token.ExpiresAt)
		if err != nil {
			return err
		}

		result.User = user.FromDatabase(token.User)
		result.RefreshToken = value
		result.ExpiresAt = expiresAt

		return nil
	})
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return nil, denied
	}

	return result, nil
}

// compromised stamps compromised_at on the token and blocked_at on the owner.
// The caller surfaces the denial after the stamps commit.
func (m *RotationManager) compromised(ctx context.Context, idb bun.IDB, token *database.Token, now time.Time) error {
	if err := m.tokens.MarkCompromised(ctx, idb, token, now); err != nil {
		return err
	}

	m.logger.Warn("refresh token reuse detected, account blocked",
		"user_id", token.UserID,
		"token_id", token.ID,
	)

	return nil
}
