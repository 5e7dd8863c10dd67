// Package db holds the database projection of the record store: one row per
// record, written only by the sync engine.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/vonshlovens/recordsync/internal/config"
	"github.com/vonshlovens/recordsync/internal/db/migrations"
	syncer "github.com/vonshlovens/recordsync/internal/sync"
)

// ErrRecordNotFound is returned when an update targets a missing row.
var ErrRecordNotFound = errors.New("record not found")

// Projection is a records table the sync engine can reconcile against.
type Projection interface {
	syncer.Store
	RunMigrations(ctx context.Context) error
	MigrationStatus(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)
	Close()
}

var (
	_ Projection = (*PostgresDB)(nil)
	_ Projection = (*SQLiteDB)(nil)
)

// Open connects to the configured projection.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Projection, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "sqlite":
		return NewSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// goose keeps its settings in package state
var gooseMu sync.Mutex

func configureGoose(dialect, table string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetTableName(table)
	return nil
}

// migrationDir maps a goose dialect to its directory in migrations.FS.
func migrationDir(dialect string) string {
	if dialect == "sqlite3" {
		return "sqlite"
	}
	return "postgres"
}

func migrateUp(ctx context.Context, db *sql.DB, dialect, table string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(dialect, table); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, migrationDir(dialect)); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func migrationStatus(ctx context.Context, db *sql.DB, dialect, table string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(dialect, table); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, migrationDir(dialect))
}
