package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/veltix/auth-api/internal/logging"
	"github.com/veltix/auth-api/internal/user"
)

// SessionStore is the slice of the session store the resolver needs.
type SessionStore interface {
	UserID(ctx context.Context, r *http.Request) (uuid.UUID, bool)
}

// Resolver derives the request principal from a bearer token or a session
// stored user id. Resolution failures are silent: the principal is simply
// left unset and downstream authorization rejects the request.
type Resolver struct {
	users        *user.Repository
	tokenService TokenService
	sessions     SessionStore
	logger       *logging.Logger
	withRoles    bool
}

func NewResolver(users *user.Repository, tokenService TokenService, sessions SessionStore, logger *logging.Logger, withRoles bool) *Resolver {
	return &Resolver{
		users:        users,
		tokenService: tokenService,
		sessions:     sessions,
		logger:       logger,
		withRoles:    withRoles,
	}
}

// Resolve returns the principal for the request, or nil when no identity
// could be established. Priority: bearer token, then session.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) *Principal {
	if token := bearerToken(req); token != "" {
		claims, err := r.tokenService.VerifyToken(token)
		if err != nil {
			// Invalid or expired token resolves to no principal, not
			// an error; the authorization pipeline rejects it later.
			return nil
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			return nil
		}

		return r.load(ctx, userID)
	}

	if r.sessions != nil {
		if userID, ok := r.sessions.UserID(ctx, req); ok {
			return r.load(ctx, userID)
		}
	}

	return nil
}

// PublicPrincipal synthesizes the guest principal from the reserved public
// role. Only meaningful when roles and permissions are enabled.
func (r *Resolver) PublicPrincipal(ctx context.Context) (*Principal, error) {
	role, err := r.users.GetRoleBySlug(ctx, "public")
	if err != nil {
		if errors.Is(err, user.ErrRoleNotFound) {
			return nil, NewConfigurationError("the public role must be created to use roles and permissions")
		}
		return nil, err
	}

	return NewPublicPrincipal(role), nil
}

func (r *Resolver) load(ctx context.Context, userID uuid.UUID) *Principal {
	u, err := r.users.GetByID(ctx, userID, r.withRoles)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			r.logger.Warn("failed to load principal", "user_id", userID, "error", err.Error())
		}
		return nil
	}

	return NewUserPrincipal(u)
}

func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
