package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/veltix/auth-api/internal/database"
	"github.com/veltix/auth-api/internal/logging"
	"github.com/veltix/auth-api/internal/user"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	database.RegisterModels(db)
	require.NoError(t, database.CreateSchema(context.Background(), db))

	t.Cleanup(func() { db.Close() })

	return db
}

func newTestLogger() *logging.Logger {
	return logging.NewLogger(true)
}

func createTestUser(t *testing.T, db *bun.DB, email, password string) *user.User {
	t.Helper()

	hash, err := HashPassword(password)
	require.NoError(t, err)

	repo := user.NewRepository(db)
	u, err := repo.Create(context.Background(), user.CreateParams{
		Email:        email,
		PasswordHash: &hash,
	})
	require.NoError(t, err)

	return u
}

// seedRole inserts a role with the given permission slugs.
func seedRole(t *testing.T, db *bun.DB, slug string, permissions ...string) *database.Role {
	t.Helper()
	ctx := context.Background()

	role := &database.Role{Name: slug, Slug: slug}
	_, err := db.NewInsert().Model(role).Exec(ctx)
	require.NoError(t, err)

	for _, permSlug := range permissions {
		perm := &database.Permission{Name: permSlug, Slug: permSlug}
		_, err := db.NewInsert().Model(perm).Exec(ctx)
		require.NoError(t, err)

		rp := &database.RolePermission{RoleID: role.ID, PermissionID: perm.ID}
		_, err = db.NewInsert().Model(rp).Exec(ctx)
		require.NoError(t, err)
	}

	return role
}

func attachRole(t *testing.T, db *bun.DB, u *user.User, role *database.Role) {
	t.Helper()

	ur := &database.UserRole{UserID: u.ID, RoleID: role.ID}
	_, err := db.NewInsert().Model(ur).Exec(context.Background())
	require.NoError(t, err)
}

// liveRefreshTokens counts unexpired, unconsumed refresh rows for the user.
func liveRefreshTokens(t *testing.T, db *bun.DB, u *user.User) int {
	t.Helper()

	count, err := db.NewSelect().
		Model((*database.Token)(nil)).
		Where("user_id = ?", u.ID).
		Where("type = ?", database.TokenTypeRefresh).
		Where("last_used_at IS NULL").
		Where("expires_at > ?", time.Now()).
		Count(context.Background())
	require.NoError(t, err)

	return count
}
