package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/veltix/auth-api/internal/config"
	"github.com/veltix/auth-api/internal/ratelimit"
)

// stubSessions is an in-memory SessionManager for handler tests.
type stubSessions struct {
	cookieName string
	byID       map[string]uuid.UUID
	counter    int
}

func newStubSessions() *stubSessions {
	return &stubSessions{cookieName: "auth_session", byID: map[string]uuid.UUID{}}
}

func (s *stubSessions) Create(ctx context.Context, w http.ResponseWriter, userID uuid.UUID) error {
	s.counter++
	id := fmt.Sprintf("session-%d", s.counter)
	s.byID[id] = userID
	http.SetCookie(w, &http.Cookie{Name: s.cookieName, Value: id, Path: "/", HttpOnly: true})
	return nil
}

func (s *stubSessions) UserID(ctx context.Context, r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return uuid.Nil, false
	}
	userID, ok := s.byID[cookie.Value]
	return userID, ok
}

func (s *stubSessions) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return false
	}
	_, ok := s.byID[cookie.Value]
	delete(s.byID, cookie.Value)
	http.SetCookie(w, &http.Cookie{Name: s.cookieName, Value: "", MaxAge: -1})
	return ok
}

func newTestHandler(t *testing.T, cfg config.AuthConfig) (*Handler, *bun.DB, *stubSessions) {
	t.Helper()

	svc, db, _ := newTestService(t, cfg)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sessions := newStubSessions()
	handler := NewHandler(svc, ratelimit.NewLimiter(client), sessions, newTestLogger(), cfg)

	return handler, db, sessions
}

func handlerAuthConfig() config.AuthConfig {
	cfg := baseAuthConfig()
	cfg.SessionCookieName = "auth_session"
	cfg.RefreshTokenCookieName = "___refresh__token"
	return cfg
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginHandlerCookieTransport(t *testing.T) {
	cfg := handlerAuthConfig()
	handler, db, _ := newTestHandler(t, cfg)
	createTestUser(t, db, "cookie@example.com", "password123")

	rec := postJSON(t, handler.Login, "/auth/login", LoginInput{
		Email:    "cookie@example.com",
		Password: "password123",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	// Session plus http-only refresh cookie, raw tokens kept out of the body.
	require.NotNil(t, cookieNamed(rec, "auth_session"))
	refreshCookie := cookieNamed(rec, "___refresh__token")
	require.NotNil(t, refreshCookie)
	assert.True(t, refreshCookie.HttpOnly)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "user")
	assert.NotContains(t, body, "access_token")
	assert.NotContains(t, body, "refresh_token")
}

func TestLoginHandlerBodyTransport(t *testing.T) {
	cfg := handlerAuthConfig()
	cfg.DisableCookies = true
	handler, db, _ := newTestHandler(t, cfg)
	createTestUser(t, db, "body@example.com", "password123")

	rec := postJSON(t, handler.Login, "/auth/login", LoginInput{
		Email:    "body@example.com",
		Password: "password123",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	var payload AuthPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.NotEmpty(t, payload.AccessToken)
	assert.NotEmpty(t, payload.RefreshToken)
	assert.Equal(t, int64(3600), payload.ExpiresIn)
}

func TestLoginHandlerInvalidCredentials(t *testing.T) {
	handler, db, _ := newTestHandler(t, handlerAuthConfig())
	createTestUser(t, db, "denied@example.com", "password123")

	rec := postJSON(t, handler.Login, "/auth/login", LoginInput{
		Email:    "denied@example.com",
		Password: "wrong password",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials.")
}

func TestRegisterHandlerValidation(t *testing.T) {
	handler, _, _ := newTestHandler(t, handlerAuthConfig())

	rec := postJSON(t, handler.Register, "/auth/register", RegisterInput{
		Email:    "bad@example.com",
		Password: "short",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "errors")
}

func TestLoginHandlerRateLimit(t *testing.T) {
	handler, db, _ := newTestHandler(t, handlerAuthConfig())
	createTestUser(t, db, "limited@example.com", "password123")

	input := LoginInput{Email: "limited@example.com", Password: "wrong password"}

	var rec *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		rec = postJSON(t, handler.Login, "/auth/login", input)
	}

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRefreshHandlerFromCookie(t *testing.T) {
	cfg := handlerAuthConfig()
	handler, db, _ := newTestHandler(t, cfg)
	createTestUser(t, db, "cycle@example.com", "password123")

	loginRec := postJSON(t, handler.Login, "/auth/login", LoginInput{
		Email:    "cycle@example.com",
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, loginRec.Code)
	refreshCookie := cookieNamed(loginRec, "___refresh__token")
	require.NotNil(t, refreshCookie)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", bytes.NewReader([]byte("{}")))
	req.AddCookie(refreshCookie)
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	rotated := cookieNamed(rec, "___refresh__token")
	require.NotNil(t, rotated)
	assert.NotEqual(t, refreshCookie.Value, rotated.Value)
}

func TestRefreshHandlerMissingToken(t *testing.T) {
	handler, _, _ := newTestHandler(t, handlerAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutHandler(t *testing.T) {
	cfg := handlerAuthConfig()
	handler, db, sessions := newTestHandler(t, cfg)
	u := createTestUser(t, db, "logout@example.com", "password123")

	loginRec := postJSON(t, handler.Login, "/auth/login", LoginInput{
		Email:    "logout@example.com",
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, loginRec.Code)
	sessionCookie := cookieNamed(loginRec, "auth_session")
	require.NotNil(t, sessionCookie)

	req := httptest.NewRequest(http.MethodDelete, "/auth/refresh-token", nil)
	req.AddCookie(sessionCookie)
	req = req.WithContext(WithPrincipal(req.Context(), NewUserPrincipal(u)))
	rec := httptest.NewRecorder()
	handler.Logout(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Empty(t, sessions.byID)
	assert.Zero(t, liveRefreshTokens(t, db, u))
}
