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

var ErrOAuthIdentityNotFound = errors.New("oauth identity not found")

// OAuthRepository handles social provider identity persistence.
type OAuthRepository struct {
	db *bun.DB
}

func NewOAuthRepository(db *bun.DB) *OAuthRepository {
	return &OAuthRepository{db: db}
}

// Create stores a fresh identity at provider callback time, holding a
// temporal token for the one-shot handoff to the social auth flow.
func (r *OAuthRepository) Create(ctx context.Context, identity *database.OAuthIdentity) error {
	identity.CreatedAt = time.Now()
	if _, err := r.db.NewInsert().Model(identity).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create oauth identity: %w", err)
	}
	return nil
}

// FindByTemporalToken looks up a pending identity by its handoff token.
func (r *OAuthRepository) FindByTemporalToken(ctx context.Context, temporalToken string) (*database.OAuthIdentity, error) {
	identity := new(database.OAuthIdentity)
	err := r.db.NewSelect().
		Model(identity).
		Where("oi.temporal_token = ?", temporalToken).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOAuthIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get oauth identity: %w", err)
	}

	return identity, nil
}

// Link attaches the identity to its user and consumes the temporal token.
// The token is nulled exactly once; a second lookup with the same value
// finds nothing.
func (r *OAuthRepository) Link(ctx context.Context, identityID int64, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*database.OAuthIdentity)(nil)).
		Set("temporal_token = ?", nil).
		Set("user_id = ?", userID).
		Where("id = ?", identityID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to link oauth identity: %w", err)
	}

	return nil
}
