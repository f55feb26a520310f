package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltix/auth-api/internal/logging"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewStore(client, logging.NewLogger(true), "auth_session", time.Hour, false)
	return store, mr
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_session" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestCreateAndResolve(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	userID := uuid.New()

	rec := httptest.NewRecorder()
	require.NoError(t, store.Create(ctx, rec, userID))

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	resolved, ok := store.UserID(ctx, req)
	require.True(t, ok)
	assert.Equal(t, userID, resolved)
}

func TestUserIDWithoutCookie(t *testing.T) {
	store, _ := newTestStore(t)

	_, ok := store.UserID(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestUserIDUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth_session", Value: "stale-session-id"})

	_, ok := store.UserID(context.Background(), req)
	assert.False(t, ok)
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	rec := httptest.NewRecorder()
	require.NoError(t, store.Create(ctx, rec, uuid.New()))
	cookie := sessionCookie(t, rec)

	mr.FastForward(2 * time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	_, ok := store.UserID(ctx, req)
	assert.False(t, ok)
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	rec := httptest.NewRecorder()
	require.NoError(t, store.Create(ctx, rec, uuid.New()))
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	destroyRec := httptest.NewRecorder()
	assert.True(t, store.Destroy(ctx, destroyRec, req))

	// The session is gone; the same cookie resolves to nothing.
	_, ok := store.UserID(ctx, req)
	assert.False(t, ok)

	// Destroying again reports failure without erroring.
	assert.False(t, store.Destroy(ctx, httptest.NewRecorder(), req))
}

func TestDestroyWithoutSession(t *testing.T) {
	store, _ := newTestStore(t)

	ok := store.Destroy(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}
