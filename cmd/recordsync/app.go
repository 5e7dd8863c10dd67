package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vonshlovens/recordsync/internal/config"
	"github.com/vonshlovens/recordsync/internal/db"
	"github.com/vonshlovens/recordsync/internal/index"
	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/scanner"
	syncer "github.com/vonshlovens/recordsync/internal/sync"
)

// app holds what every command derives from the loaded config.
type app struct {
	cfg      *config.Config
	registry *record.StaticRegistry
	store    *index.Store
	cache    *index.Cache
}

func newApp(cfg *config.Config) (*app, error) {
	registry := record.NewRegistry()
	for _, t := range cfg.Types {
		if err := registry.RegisterType(record.Type(t)); err != nil {
			return nil, fmt.Errorf("invalid type %q in config: %w", t, err)
		}
	}
	for _, s := range cfg.Statuses {
		if err := registry.RegisterStatus(record.Status(s)); err != nil {
			return nil, fmt.Errorf("invalid status %q in config: %w", s, err)
		}
	}

	store := index.NewStore(cfg.Index.Path)
	return &app{
		cfg:      cfg,
		registry: registry,
		store:    store,
		cache:    index.NewCache(store),
	}, nil
}

// withTimeout bounds one scan and sync by sync.timeout_s
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(a.cfg.Sync.TimeoutS)*time.Second)
}

func (a *app) scanOptions(progress bool) scanner.Options {
	return scanner.Options{
		IgnorePatterns:  a.cfg.IgnorePatterns,
		IncludePatterns: a.cfg.IncludePatterns,
		Workers:         a.cfg.Index.Workers,
		ShowProgress:    progress,
	}
}

// builder returns an index builder. A nil projection disables database sync.
func (a *app) builder(projection db.Projection, progress bool) *index.Builder {
	opts := []index.BuilderOption{
		index.WithScanOptions(a.scanOptions(progress)),
		index.WithRegistry(a.registry),
		index.WithStore(a.store),
		index.WithCache(a.cache),
	}
	if projection != nil {
		opts = append(opts, index.WithSyncer(syncer.NewEngine(projection, syncer.WithProgress(progress))))
	}
	return index.NewBuilder(a.cfg.RecordsPath, opts...)
}

// openProjection connects to the configured database. A local SQLite file
// is migrated on open.
func (a *app) openProjection(ctx context.Context) (db.Projection, error) {
	projection, err := db.Open(ctx, &a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if a.cfg.Database.Driver == "sqlite" {
		if err := projection.RunMigrations(ctx); err != nil {
			projection.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return projection, nil
}

// strategy resolves the --conflict flag, falling back to the config value
func (a *app) strategy(flag string) (syncer.Strategy, error) {
	if flag == "" {
		flag = a.cfg.Sync.ConflictResolution
	}
	return syncer.ParseStrategy(flag)
}

// writeRecord creates the file for a new record under root/dir, named after
// its slug. An existing file is never overwritten.
func writeRecord(root, dir string, e *record.Entity) (string, error) {
	clean := filepath.Clean(dir)
	if filepath.IsAbs(dir) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("directory %q is outside the record store", dir)
	}
	name := e.Metadata.Slug
	if name == "" {
		name = e.ID
	}
	path := filepath.Join(root, dir, name+scanner.RecordExt)

	data, err := record.Encode(e)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("record file already exists: %s", path)
		}
		return "", fmt.Errorf("failed to create record file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write record file: %w", err)
	}
	return path, f.Close()
}

func logOutcome(o *syncer.Outcome) {
	slog.Info("sync completed",
		"run_id", o.RunID,
		"strategy", o.ConflictResolution,
		"created", o.Created,
		"updated", o.Updated,
		"conflicts", o.Conflicts,
		"errors", len(o.Errors),
		"pending", len(o.Pending))
}
