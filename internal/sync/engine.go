// Package sync reconciles the record files with the database projection.
//
// The files are authoritative, but a row may have been edited in the
// database since the last run. Every record present on both sides with
// differing data is a conflict, and a Strategy decides which side wins.
// Each record is written on its own, so a failed or interrupted run leaves
// already-resolved records committed and the rest untouched.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/vonshlovens/recordsync/internal/record"
)

// Store is the database projection as seen by the engine.
type Store interface {
	// ListRecords returns every projected record, including database-only
	// fields such as WorkflowState.
	ListRecords(ctx context.Context) ([]*record.Entity, error)
	// CreateRecord inserts a new row.
	CreateRecord(ctx context.Context, e *record.Entity) error
	// UpdateRecord overwrites the file-owned columns of an existing row and
	// leaves database-only columns untouched.
	UpdateRecord(ctx context.Context, e *record.Entity) error
}

// Engine handles record synchronization.
type Engine struct {
	store        Store
	showProgress bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgress renders a progress bar on stderr while records are processed.
func WithProgress(show bool) Option {
	return func(e *Engine) {
		e.showProgress = show
	}
}

// NewEngine creates a new sync engine
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type resolution int

const (
	keepFile resolution = iota
	keepDatabase
	deferToPerson
)

// resolve is the only place that interprets a Strategy.
func resolve(s Strategy, file, row *record.Entity) resolution {
	switch s {
	case FileWins:
		return keepFile
	case DatabaseWins:
		return keepDatabase
	case Timestamp:
		if file.UpdatedAt.After(row.UpdatedAt) {
			return keepFile
		}
		return keepDatabase
	case Manual:
		return deferToPerson
	default:
		panic(fmt.Sprintf("sync: unhandled strategy %v", s))
	}
}

// Sync reconciles entities against the projection. A bad strategy or an
// unreadable projection fails before anything is written. Failed writes
// are collected in the outcome and do not stop the batch. If ctx is
// canceled mid-batch the partial outcome is returned with the error.
func (e *Engine) Sync(ctx context.Context, entities []*record.Entity, strategy Strategy) (*Outcome, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConflictStrategy, strategy)
	}

	start := time.Now()
	out := &Outcome{
		RunID:              uuid.NewString(),
		TotalRecords:       len(entities),
		ConflictResolution: strategy,
		Details:            make(map[string]*TypeCounts),
	}
	log := slog.With("run_id", out.RunID, "strategy", strategy.String())
	log.Info("starting sync", "records", len(entities))

	rows, err := e.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load database records: %w", err)
	}
	existing := make(map[string]*record.Entity, len(rows))
	for _, row := range rows {
		existing[row.ID] = row
	}

	var bar *progressbar.ProgressBar
	if e.showProgress && len(entities) > 0 {
		bar = progressbar.NewOptions(len(entities),
			progressbar.OptionSetDescription("Syncing records"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
		)
	}

	for _, ent := range entities {
		if err := ctx.Err(); err != nil {
			out.Duration = time.Since(start)
			return out, fmt.Errorf("sync interrupted: %w", err)
		}

		if next := e.syncOne(ctx, log, out, ent, existing[ent.ID]); next != nil {
			existing[ent.ID] = next
		}

		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	out.Duration = time.Since(start)
	log.Info("sync completed",
		"created", out.Created,
		"updated", out.Updated,
		"conflicts", out.Conflicts,
		"errors", len(out.Errors),
		"duration_s", out.Duration.Seconds())

	return out, nil
}

// syncOne handles a single record and returns the row as it now stands in
// the database, or nil if nothing was written.
func (e *Engine) syncOne(ctx context.Context, log *slog.Logger, out *Outcome, ent, row *record.Entity) *record.Entity {
	typ := string(ent.Type)
	counts := out.counts(typ)

	if row == nil {
		if err := e.store.CreateRecord(ctx, ent); err != nil {
			e.fail(log, out, ent, "create", err)
			return nil
		}
		out.Created++
		counts.Created++
		log.Debug("record created", "id", ent.ID, "type", typ)
		return ent
	}

	if record.Equal(ent, row) {
		return nil
	}

	out.Conflicts++

	switch resolve(out.ConflictResolution, ent, row) {
	case keepFile:
		if err := e.store.UpdateRecord(ctx, ent); err != nil {
			e.fail(log, out, ent, "update", err)
			return nil
		}
		out.Updated++
		counts.Updated++
		log.Debug("record updated from file", "id", ent.ID, "type", typ)

		next := *ent
		next.WorkflowState = row.WorkflowState
		return &next

	case keepDatabase:
		log.Debug("conflict kept database row", "id", ent.ID, "type", typ)

	case deferToPerson:
		out.Pending = append(out.Pending, PendingConflict{
			ID:                ent.ID,
			Type:              typ,
			FileUpdatedAt:     ent.UpdatedAt,
			DatabaseUpdatedAt: row.UpdatedAt,
		})
		log.Info("conflict needs manual resolution", "id", ent.ID, "type", typ)
	}

	return nil
}

func (e *Engine) fail(log *slog.Logger, out *Outcome, ent *record.Entity, action string, err error) {
	out.Errors = append(out.Errors, &RecordError{
		ID:     ent.ID,
		Type:   string(ent.Type),
		Action: action,
		Err:    err,
	})
	log.Error("failed to write record", "id", ent.ID, "action", action, "error", err)
}
