package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vonshlovens/recordsync/internal/record"
)

// recordColumns is the column order used by every SELECT of the records table.
const recordColumns = `id, title, type, status, content, author, authors, tags,
	module, slug, version, extra, created_at, updated_at, workflow_state`

// Status describes the projection for the status command
type Status struct {
	Driver       string
	Location     string
	Connected    bool
	TotalRecords int
	ByType       map[string]int
	LastSyncTime *time.Time
}

// encodedRecord holds the serialized columns shared by both dialects.
type encodedRecord struct {
	authors     []byte
	extra       []byte
	contentHash string
	createdAt   *time.Time
	updatedAt   *time.Time
}

func encodeRecord(e *record.Entity) (*encodedRecord, error) {
	authors := e.Authors
	if authors == nil {
		authors = []record.Author{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}

	extra := e.Metadata.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra metadata: %w", err)
	}

	hash, err := record.ContentHash(e)
	if err != nil {
		return nil, fmt.Errorf("failed to hash record: %w", err)
	}

	return &encodedRecord{
		authors:     authorsJSON,
		extra:       extraJSON,
		contentHash: hash,
		createdAt:   nullableTime(e.CreatedAt),
		updatedAt:   nullableTime(e.UpdatedAt),
	}, nil
}

// decodeJSONColumns fills the list and map fields of e from their JSON columns.
// Empty values decode to nil so they compare equal to a freshly decoded file.
func decodeJSONColumns(e *record.Entity, authors, extra []byte) error {
	if len(authors) > 0 {
		if err := json.Unmarshal(authors, &e.Authors); err != nil {
			return fmt.Errorf("failed to unmarshal authors of %s: %w", e.ID, err)
		}
	}
	if len(e.Authors) == 0 {
		e.Authors = nil
	}

	if len(extra) > 0 {
		// json.Number keeps integers beyond float64 precision exact
		dec := json.NewDecoder(bytes.NewReader(extra))
		dec.UseNumber()
		if err := dec.Decode(&e.Metadata.Extra); err != nil {
			return fmt.Errorf("failed to unmarshal extra metadata of %s: %w", e.ID, err)
		}
	}
	if len(e.Metadata.Extra) == 0 {
		e.Metadata.Extra = nil
	}
	if len(e.Metadata.Tags) == 0 {
		e.Metadata.Tags = nil
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	n := record.NormalizeTime(t)
	return &n
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return record.NormalizeTime(*t)
}
