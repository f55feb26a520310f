package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// NewBunDB creates a new Bun DB instance from an existing sql.DB connection
func NewBunDB(sqlDB *sql.DB) *bun.DB {
	db := bun.NewDB(sqlDB, pgdialect.New())
	RegisterModels(db)
	return db
}

// RegisterModels registers the many-to-many join models. Must be called
// before any query touching the user-role or role-permission relations.
func RegisterModels(db *bun.DB) {
	db.RegisterModel((*UserRole)(nil))
	db.RegisterModel((*RolePermission)(nil))
}

// CreateSchema creates all tables. Used by tests and first-boot setups;
// production deployments run real migrations instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*User)(nil),
		(*Role)(nil),
		(*Permission)(nil),
		(*UserRole)(nil),
		(*RolePermission)(nil),
		(*Token)(nil),
		(*OAuthIdentity)(nil),
		(*PasswordReset)(nil),
		(*Team)(nil),
		(*TeamInvite)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	return nil
}
