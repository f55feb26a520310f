package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veltix/auth-api/internal/auth"
	"github.com/veltix/auth-api/internal/logging"
)

const keyPrefix = "session:"

// Store keeps server-side sessions in Redis, keyed by an opaque id carried in
// an http-only cookie. Only the id ever reaches the browser.
type Store struct {
	client     *redis.Client
	logger     *logging.Logger
	cookieName string
	ttl        time.Duration
	secure     bool
}

func NewStore(client *redis.Client, logger *logging.Logger, cookieName string, ttl time.Duration, secure bool) *Store {
	return &Store{
		client:     client,
		logger:     logger,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Create mints a session for the user and sets the session cookie.
func (s *Store) Create(ctx context.Context, w http.ResponseWriter, userID uuid.UUID) error {
	id, err := auth.GenerateOpaqueToken()
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, keyPrefix+id, userID.String(), s.ttl).Err(); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(s.ttl),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// UserID resolves the request's session cookie to a user id. Any failure
// (no cookie, unknown session, malformed value) reports false.
func (s *Store) UserID(ctx context.Context, r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return uuid.Nil, false
	}

	raw, err := s.client.Get(ctx, keyPrefix+cookie.Value).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("failed to read session", "error", err.Error())
		}
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}

	return userID, true
}

// Destroy tears down the request's session. It never fails the caller:
// logout with no live session simply reports false.
func (s *Store) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	deleted, err := s.client.Del(ctx, keyPrefix+cookie.Value).Result()
	if err != nil {
		s.logger.Warn("failed to delete session", "error", err.Error())
		return false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return deleted > 0
}
