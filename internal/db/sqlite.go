package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vonshlovens/recordsync/internal/record"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000Z"

// SQLiteDB is the records projection in a local SQLite file
type SQLiteDB struct {
	DB   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the SQLite projection at path
func NewSQLite(ctx context.Context, path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	slog.Info("connected to database", "driver", "sqlite", "path", path)

	return &SQLiteDB{DB: db, path: path}, nil
}

// Close closes the database
func (db *SQLiteDB) Close() {
	if db.DB != nil {
		db.DB.Close()
		slog.Info("database connection closed")
	}
}

// RunMigrations executes all pending database migrations
func (db *SQLiteDB) RunMigrations(ctx context.Context) error {
	if err := migrateUp(ctx, db.DB, "sqlite3", "goose_db_version"); err != nil {
		return err
	}
	slog.Info("migrations completed successfully", "path", db.path)
	return nil
}

// MigrationStatus logs the state of every migration
func (db *SQLiteDB) MigrationStatus(ctx context.Context) error {
	return migrationStatus(ctx, db.DB, "sqlite3", "goose_db_version")
}

// ListRecords returns every row of the projection
func (db *SQLiteDB) ListRecords(ctx context.Context) ([]*record.Entity, error) {
	rows, err := db.DB.QueryContext(ctx, "SELECT "+recordColumns+" FROM records ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*record.Entity
	for rows.Next() {
		e := &record.Entity{}
		var (
			typ, status          string
			authors, tags, extra string
			created, updated     sql.NullString
		)

		if err := rows.Scan(
			&e.ID, &e.Title, &typ, &status, &e.Content, &e.Author, &authors,
			&tags, &e.Metadata.Module, &e.Metadata.Slug, &e.Metadata.Version,
			&extra, &created, &updated, &e.WorkflowState,
		); err != nil {
			return nil, err
		}

		e.Type = record.Type(typ)
		e.Status = record.Status(status)
		if e.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, fmt.Errorf("bad created_at for %s: %w", e.ID, err)
		}
		if e.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
			return nil, fmt.Errorf("bad updated_at for %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Metadata.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags of %s: %w", e.ID, err)
		}
		if err := decodeJSONColumns(e, []byte(authors), []byte(extra)); err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

// CreateRecord inserts a new row. An existing id is a constraint violation.
func (db *SQLiteDB) CreateRecord(ctx context.Context, e *record.Entity) error {
	enc, tags, err := encodeSQLite(e)
	if err != nil {
		return err
	}

	_, err = db.DB.ExecContext(ctx, `
		INSERT INTO records (
			id, title, type, status, content, author, authors, tags,
			module, slug, version, extra, created_at, updated_at, content_hash, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Title, string(e.Type), string(e.Status), e.Content, e.Author,
		string(enc.authors), tags, e.Metadata.Module, e.Metadata.Slug, e.Metadata.Version,
		string(enc.extra), formatSQLiteTime(enc.createdAt), formatSQLiteTime(enc.updatedAt),
		enc.contentHash, time.Now().UTC().Format(sqliteTime),
	)

	return err
}

// UpdateRecord overwrites the file-owned columns of a row. workflow_state is
// left as it is.
func (db *SQLiteDB) UpdateRecord(ctx context.Context, e *record.Entity) error {
	enc, tags, err := encodeSQLite(e)
	if err != nil {
		return err
	}

	res, err := db.DB.ExecContext(ctx, `
		UPDATE records SET
			title = ?, type = ?, status = ?, content = ?, author = ?, authors = ?,
			tags = ?, module = ?, slug = ?, version = ?, extra = ?,
			created_at = ?, updated_at = ?, content_hash = ?, synced_at = ?
		WHERE id = ?
	`,
		e.Title, string(e.Type), string(e.Status), e.Content, e.Author, string(enc.authors),
		tags, e.Metadata.Module, e.Metadata.Slug, e.Metadata.Version, string(enc.extra),
		formatSQLiteTime(enc.createdAt), formatSQLiteTime(enc.updatedAt),
		enc.contentHash, time.Now().UTC().Format(sqliteTime),
		e.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, e.ID)
	}
	return nil
}

// SetWorkflowState changes the database-only workflow state of a row.
func (db *SQLiteDB) SetWorkflowState(ctx context.Context, id, state string) error {
	res, err := db.DB.ExecContext(ctx, "UPDATE records SET workflow_state = ? WHERE id = ?", state, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return err
}

// Status returns row counts and the last sync time
func (db *SQLiteDB) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Driver:    "sqlite",
		Location:  db.path,
		Connected: true,
		ByType:    make(map[string]int),
	}

	rows, err := db.DB.QueryContext(ctx, "SELECT type, COUNT(*) FROM records GROUP BY type")
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

	var lastSync sql.NullString
	if err := db.DB.QueryRowContext(ctx, "SELECT MAX(synced_at) FROM records").Scan(&lastSync); err != nil {
		slog.Warn("failed to get last sync time", "error", err)
	}
	if t, err := parseSQLiteTime(lastSync); err == nil && !t.IsZero() {
		status.LastSyncTime = &t
	}

	return status, nil
}

func encodeSQLite(e *record.Entity) (*encodedRecord, string, error) {
	enc, err := encodeRecord(e)
	if err != nil {
		return nil, "", err
	}
	tags, err := json.Marshal(tagsOrEmpty(e.Metadata.Tags))
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	return enc, string(tags), nil
}

func formatSQLiteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(sqliteTime, s.String)
}
