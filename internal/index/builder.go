package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/scanner"
	"github.com/vonshlovens/recordsync/internal/sync"
)

// Syncer reconciles scanned entities with the database projection.
// *sync.Engine satisfies it.
type Syncer interface {
	Sync(ctx context.Context, entities []*record.Entity, strategy sync.Strategy) (*sync.Outcome, error)
}

// Options narrow one generation. Empty filter dimensions match everything.
type Options struct {
	Types    []record.Type
	Statuses []record.Status
	Modules  []string
	// Subdirs limits the scan to these directories of the record store.
	Subdirs []string

	SyncDatabase bool
	// ConflictResolution is used when SyncDatabase is set. Zero selects
	// sync.DefaultStrategy.
	ConflictResolution sync.Strategy
}

func (o Options) full() bool {
	return len(o.Types) == 0 && len(o.Statuses) == 0 && len(o.Modules) == 0 && len(o.Subdirs) == 0
}

// Notice flags a record that was indexed but carries a type or status the
// registry does not know.
type Notice struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (n Notice) String() string {
	return n.Path + ": " + n.Reason
}

// Result is one generation together with its non-fatal diagnostics.
type Result struct {
	Index *Index
	// Warnings are files the scan skipped.
	Warnings []scanner.Warning
	// Notices are indexed records with unrecognized values.
	Notices []Notice
	// Sync is set when the generation also synchronized the database.
	Sync *sync.Outcome
}

// Builder generates indexes for one record store.
type Builder struct {
	root     string
	scan     scanner.Options
	registry record.Registry
	syncer   Syncer
	store    *Store
	cache    *Cache
	now      func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithScanOptions sets the scanner options used for every generation.
func WithScanOptions(opts scanner.Options) BuilderOption {
	return func(b *Builder) {
		b.scan = opts
	}
}

// WithRegistry reports unrecognized types and statuses as warnings.
func WithRegistry(r record.Registry) BuilderOption {
	return func(b *Builder) {
		b.registry = r
	}
}

// WithSyncer enables Options.SyncDatabase.
func WithSyncer(s Syncer) BuilderOption {
	return func(b *Builder) {
		b.syncer = s
	}
}

// WithStore persists every full generation.
func WithStore(s *Store) BuilderOption {
	return func(b *Builder) {
		b.store = s
	}
}

// WithCache keeps the latest full generation in c.
func WithCache(c *Cache) BuilderOption {
	return func(b *Builder) {
		b.cache = c
	}
}

// NewBuilder creates a builder for the record store at root
func NewBuilder(root string, opts ...BuilderOption) *Builder {
	b := &Builder{root: root, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Generate scans the record store and builds a fresh Index. Files that fail
// to decode are reported in Result.Warnings. With SyncDatabase the whole
// store is scanned and synchronized before any filter, subdirs included, is
// applied. Only unfiltered indexes are persisted and cached.
func (b *Builder) Generate(ctx context.Context, opts Options) (*Result, error) {
	strategy := opts.ConflictResolution
	if opts.SyncDatabase {
		if strategy == 0 {
			strategy = sync.DefaultStrategy
		}
		if !strategy.Valid() {
			return nil, fmt.Errorf("%w: %v", sync.ErrInvalidConflictStrategy, strategy)
		}
		if b.syncer == nil {
			return nil, errors.New("database sync requested but no database is configured")
		}
	}

	subdirs, err := cleanSubdirs(opts.Subdirs)
	if err != nil {
		return nil, err
	}

	// A sync always reconciles the whole store, so subdirs only narrow the
	// scan when nothing is synced.
	scanOpts := b.scan
	if len(subdirs) > 0 && !opts.SyncDatabase {
		scanOpts.Subdirs = subdirs
	}

	scanned, err := scanner.Scan(ctx, b.root, scanOpts)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Warnings: scanned.Warnings,
		Notices:  b.checkRegistry(scanned.Records),
	}

	if opts.SyncDatabase {
		outcome, err := b.syncer.Sync(ctx, scanned.Entities(), strategy)
		if err != nil {
			return nil, fmt.Errorf("failed to sync database: %w", err)
		}
		result.Sync = outcome
	}

	entries := make([]Entry, 0, len(scanned.Records))
	for _, rec := range scanned.Records {
		if opts.matches(rec.Entity) && inSubdirs(rec.Path, subdirs) {
			entries = append(entries, NewEntry(rec))
		}
	}
	result.Index = NewIndex(entries, b.now())

	if opts.full() {
		if b.store != nil {
			if err := b.store.Save(result.Index); err != nil {
				return nil, err
			}
			slog.Debug("index saved", "path", b.store.Path(), "records", result.Index.Metadata.TotalRecords)
		}
		if b.cache != nil {
			b.cache.Set(result.Index)
		}
	} else if b.cache != nil && result.Sync != nil && result.Sync.Mutated() {
		b.cache.Invalidate()
	}

	slog.Info("index generated",
		"records", result.Index.Metadata.TotalRecords,
		"warnings", len(result.Warnings),
		"notices", len(result.Notices))

	return result, nil
}

// Current returns the cached full Index, generating one on a miss.
func (b *Builder) Current(ctx context.Context) (*Index, error) {
	if b.cache != nil {
		idx, err := b.cache.Get()
		if err != nil {
			slog.Warn("discarding unreadable index", "error", err)
		} else if idx != nil {
			return idx, nil
		}
	}

	res, err := b.Generate(ctx, Options{})
	if err != nil {
		return nil, err
	}
	return res.Index, nil
}

func (b *Builder) checkRegistry(records []scanner.Record) []Notice {
	if b.registry == nil {
		return nil
	}

	var notices []Notice
	for _, rec := range records {
		if !b.registry.KnownType(rec.Entity.Type) {
			notices = append(notices, Notice{
				Path:   rec.Path,
				Reason: fmt.Sprintf("unrecognized type %q", rec.Entity.Type),
			})
		}
		if !b.registry.KnownStatus(rec.Entity.Status) {
			notices = append(notices, Notice{
				Path:   rec.Path,
				Reason: fmt.Sprintf("unrecognized status %q", rec.Entity.Status),
			})
		}
	}
	return notices
}

// cleanSubdirs normalizes subdirectories to slash form relative to the root.
func cleanSubdirs(dirs []string) ([]string, error) {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		d = filepath.ToSlash(filepath.Clean(d))
		if d == ".." || strings.HasPrefix(d, "../") || filepath.IsAbs(d) {
			return nil, fmt.Errorf("subdirectory %q is outside the record store", d)
		}
		out = append(out, d)
	}
	return out, nil
}

func inSubdirs(relPath string, subdirs []string) bool {
	if len(subdirs) == 0 {
		return true
	}
	for _, d := range subdirs {
		if d == "." || relPath == d || strings.HasPrefix(relPath, d+"/") {
			return true
		}
	}
	return false
}

func (o Options) matches(e *record.Entity) bool {
	if len(o.Types) > 0 && !slices.Contains(o.Types, e.Type) {
		return false
	}
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, e.Status) {
		return false
	}
	if len(o.Modules) > 0 && !slices.Contains(o.Modules, e.Metadata.Module) {
		return false
	}
	return true
}
