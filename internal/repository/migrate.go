package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/folio-cms/folio/migrations"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// RunMigrations applies all pending embedded migrations.
func (r *Repository) RunMigrations(ctx context.Context) error {
	return r.withGoose(func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, "."); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// ResetSchema rolls every migration back and reapplies them.
// Intended for integration tests only.
func (r *Repository) ResetSchema(ctx context.Context) error {
	return r.withGoose(func(db *sql.DB) error {
		if err := goose.DownToContext(ctx, db, ".", 0); err != nil {
			return fmt.Errorf("roll back migrations: %w", err)
		}
		if err := goose.UpContext(ctx, db, "."); err != nil {
			return fmt.Errorf("reapply migrations: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the current goose version.
func (r *Repository) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := r.withGoose(func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func (r *Repository) withGoose(fn func(db *sql.DB) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())

	return fn(db)
}
