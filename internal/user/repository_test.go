package user

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/veltix/auth-api/internal/database"
)

func newTestRepository(t *testing.T) (*Repository, *bun.DB) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	database.RegisterModels(db)
	require.NoError(t, database.CreateSchema(context.Background(), db))

	t.Cleanup(func() { db.Close() })

	return NewRepository(db), db
}

func seedRoleWithPermissions(t *testing.T, db *bun.DB, slug string, permissions ...string) *database.Role {
	t.Helper()
	ctx := context.Background()

	role := &database.Role{Name: slug, Slug: slug}
	_, err := db.NewInsert().Model(role).Exec(ctx)
	require.NoError(t, err)

	for _, permSlug := range permissions {
		perm := new(database.Permission)
		err := db.NewSelect().Model(perm).Where("p.slug = ?", permSlug).Scan(ctx)
		if err != nil {
			perm = &database.Permission{Name: permSlug, Slug: permSlug}
			_, err = db.NewInsert().Model(perm).Exec(ctx)
			require.NoError(t, err)
		}

		rp := &database.RolePermission{RoleID: role.ID, PermissionID: perm.ID}
		_, err = db.NewInsert().Model(rp).Exec(ctx)
		require.NoError(t, err)
	}

	return role
}

func TestCreateAndGetByEmail(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	hash := "$argon2id$fake"
	created, err := repo.Create(ctx, CreateParams{Email: "a@example.com", PasswordHash: &hash})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	found, err := repo.GetByEmail(ctx, "a@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	require.NotNil(t, found.PasswordHash)
	assert.Equal(t, hash, *found.PasswordHash)
}

func TestGetByEmailNotFound(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	_, err := repo.Create(ctx, CreateParams{Email: "dup@example.com"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, CreateParams{Email: "dup@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestCreateWithRolesFlattensPermissions(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)

	// update:posts is shared across both roles; flattening must dedupe it.
	editor := seedRoleWithPermissions(t, db, "editor", "insert:posts", "update:posts")
	viewer := seedRoleWithPermissions(t, db, "viewer", "fetch:posts", "update:posts")

	created, err := repo.Create(ctx, CreateParams{
		Email:   "perms@example.com",
		RoleIDs: []int64{editor.ID, viewer.ID},
	})
	require.NoError(t, err)

	assert.Len(t, created.Roles, 2)
	assert.ElementsMatch(t, []string{"insert:posts", "update:posts", "fetch:posts"}, created.Permissions)
	assert.True(t, created.HasPermission("fetch:posts"))
	assert.False(t, created.HasPermission("delete:posts"))
}

func TestGetRoleBySlug(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)

	seedRoleWithPermissions(t, db, "public", "fetch:posts")

	role, err := repo.GetRoleBySlug(ctx, "public")
	require.NoError(t, err)
	assert.Equal(t, "public", role.Slug)
	assert.Equal(t, []string{"fetch:posts"}, role.Permissions)

	_, err = repo.GetRoleBySlug(ctx, "missing")
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	created, err := repo.Create(ctx, CreateParams{Email: "pw@example.com"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePassword(ctx, created.ID, "new-hash"))

	fresh, err := repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	require.NotNil(t, fresh.PasswordHash)
	assert.Equal(t, "new-hash", *fresh.PasswordHash)

	assert.ErrorIs(t, repo.UpdatePassword(ctx, uuid.New(), "x"), ErrNotFound)
}

func TestBlock(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	created, err := repo.Create(ctx, CreateParams{Email: "block@example.com"})
	require.NoError(t, err)
	assert.False(t, created.Blocked())

	require.NoError(t, repo.Block(ctx, created.ID, time.Now()))

	fresh, err := repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	assert.True(t, fresh.Blocked())
}

func TestEmailVerificationLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	token := "verification-token"
	created, err := repo.Create(ctx, CreateParams{
		Email:                  "lifecycle@example.com",
		EmailVerificationToken: &token,
	})
	require.NoError(t, err)
	require.NotNil(t, created.EmailVerificationToken)

	// Resend regenerates the token while unverified.
	require.NoError(t, repo.UpdateVerificationToken(ctx, created.ID, "regenerated"))

	require.NoError(t, repo.MarkEmailVerified(ctx, created.ID))

	fresh, err := repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	assert.NotNil(t, fresh.EmailVerifiedAt)
	assert.Nil(t, fresh.EmailVerificationToken)

	// Once verified the token can no longer be replaced.
	assert.ErrorIs(t, repo.UpdateVerificationToken(ctx, created.ID, "again"), ErrNotFound)
}

func TestTwoFactorStateTransitions(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	created, err := repo.Create(ctx, CreateParams{Email: "2fa@example.com"})
	require.NoError(t, err)
	assert.Nil(t, created.TwoFactorEnabled)
	assert.False(t, created.TwoFactorConfirmed())

	// Pending: secret set, enabled still null.
	require.NoError(t, repo.SetTwoFactorPending(ctx, created.ID, "secret"))
	pending, err := repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	require.NotNil(t, pending.TwoFactorSecret)
	assert.Nil(t, pending.TwoFactorEnabled)
	assert.False(t, pending.TwoFactorConfirmed())

	// Confirmed.
	require.NoError(t, repo.ConfirmTwoFactor(ctx, created.ID))
	enabled, err := repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	assert.True(t, enabled.TwoFactorConfirmed())

	// Disabled: secret cleared, enabled false (not null).
	require.NoError(t, repo.DisableTwoFactor(ctx, created.ID))
	disabled, err := repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	assert.Nil(t, disabled.TwoFactorSecret)
	require.NotNil(t, disabled.TwoFactorEnabled)
	assert.False(t, *disabled.TwoFactorEnabled)
}
