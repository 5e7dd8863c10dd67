package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vonshlovens/recordsync/internal/config"
	"github.com/vonshlovens/recordsync/internal/record"
)

// PostgresDB is the records projection in PostgreSQL
type PostgresDB struct {
	Pool   *pgxpool.Pool
	config *config.DatabaseConfig
	Schema string
}

// NewPostgres creates a new database connection pool
func NewPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		"host", cfg.Host,
		"database", cfg.Database,
		"schema", cfg.Schema)

	return &PostgresDB{
		Pool:   pool,
		config: cfg,
		Schema: cfg.Schema,
	}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		slog.Info("database connection closed")
	}
}

// EnsureSchema creates the schema if it doesn't exist
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	if db.Schema == "" {
		return nil
	}

	_, err := db.Pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", db.Schema))
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", db.Schema, err)
	}

	slog.Info("schema ready", "schema", db.Schema)
	return nil
}

// RunMigrations executes all pending database migrations
func (db *PostgresDB) RunMigrations(ctx context.Context) error {
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	stdDB, err := sql.Open("pgx", db.config.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open stdlib connection: %w", err)
	}
	defer stdDB.Close()

	if err := migrateUp(ctx, stdDB, "postgres", db.versionTable()); err != nil {
		return err
	}

	slog.Info("migrations completed successfully", "schema", db.Schema)
	return nil
}

// MigrationStatus logs the state of every migration
func (db *PostgresDB) MigrationStatus(ctx context.Context) error {
	stdDB, err := sql.Open("pgx", db.config.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open stdlib connection: %w", err)
	}
	defer stdDB.Close()

	return migrationStatus(ctx, stdDB, "postgres", db.versionTable())
}

// versionTable keeps goose bookkeeping inside the records schema so several
// record stores can share one database.
func (db *PostgresDB) versionTable() string {
	if db.Schema == "" {
		return "goose_db_version"
	}
	return db.Schema + ".goose_db_version"
}

// ListRecords returns every row of the projection
func (db *PostgresDB) ListRecords(ctx context.Context) ([]*record.Entity, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+recordColumns+" FROM records ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*record.Entity
	for rows.Next() {
		e := &record.Entity{}
		var (
			typ, status      string
			authors, extra   []byte
			created, updated *time.Time
		)

		if err := rows.Scan(
			&e.ID, &e.Title, &typ, &status, &e.Content, &e.Author, &authors,
			&e.Metadata.Tags, &e.Metadata.Module, &e.Metadata.Slug, &e.Metadata.Version,
			&extra, &created, &updated, &e.WorkflowState,
		); err != nil {
			return nil, err
		}

		e.Type = record.Type(typ)
		e.Status = record.Status(status)
		e.CreatedAt = timeOrZero(created)
		e.UpdatedAt = timeOrZero(updated)
		if err := decodeJSONColumns(e, authors, extra); err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// CreateRecord inserts a new row. An existing id is a constraint violation.
func (db *PostgresDB) CreateRecord(ctx context.Context, e *record.Entity) error {
	enc, err := encodeRecord(e)
	if err != nil {
		return err
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO records (
			id, title, type, status, content, author, authors, tags,
			module, slug, version, extra, created_at, updated_at, content_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`,
		e.ID, e.Title, string(e.Type), string(e.Status), e.Content, e.Author,
		enc.authors, tagsOrEmpty(e.Metadata.Tags), e.Metadata.Module, e.Metadata.Slug,
		e.Metadata.Version, enc.extra, enc.createdAt, enc.updatedAt, enc.contentHash,
	)

	return err
}

// UpdateRecord overwrites the file-owned columns of a row. workflow_state is
// left as it is.
func (db *PostgresDB) UpdateRecord(ctx context.Context, e *record.Entity) error {
	enc, err := encodeRecord(e)
	if err != nil {
		return err
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE records SET
			title = $2,
			type = $3,
			status = $4,
			content = $5,
			author = $6,
			authors = $7,
			tags = $8,
			module = $9,
			slug = $10,
			version = $11,
			extra = $12,
			created_at = $13,
			updated_at = $14,
			content_hash = $15,
			synced_at = NOW()
		WHERE id = $1
	`,
		e.ID, e.Title, string(e.Type), string(e.Status), e.Content, e.Author,
		enc.authors, tagsOrEmpty(e.Metadata.Tags), e.Metadata.Module, e.Metadata.Slug,
		e.Metadata.Version, enc.extra, enc.createdAt, enc.updatedAt, enc.contentHash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, e.ID)
	}
	return nil
}

// Status returns row counts and the last sync time
func (db *PostgresDB) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Driver:    "postgres",
		Location:  fmt.Sprintf("%s:%d/%s (schema %s)", db.config.Host, db.config.Port, db.config.Database, db.Schema),
		Connected: true,
		ByType:    make(map[string]int),
	}

	rows, err := db.Pool.Query(ctx, "SELECT type, COUNT(*) FROM records GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		status.ByType[typ] = n
		status.TotalRecords += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var lastSync *time.Time
	if err := db.Pool.QueryRow(ctx, "SELECT MAX(synced_at) FROM records").Scan(&lastSync); err != nil {
		slog.Warn("failed to get last sync time", "error", err)
	}
	status.LastSyncTime = lastSync

	return status, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
