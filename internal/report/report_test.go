package report

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vonshlovens/recordsync/internal/db"
	"github.com/vonshlovens/recordsync/internal/index"
	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/scanner"
	"github.com/vonshlovens/recordsync/internal/sync"
)

var generated = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPrinter_Index(t *testing.T) {
	var buf bytes.Buffer
	idx := index.NewIndex([]index.Entry{
		{ID: "b-1", Type: "bylaw", Status: "published", Module: "council", Path: "bylaws/noise.md"},
		{ID: "p-1", Type: "policy", Status: "draft", Path: "policies/parking.md"},
	}, generated)

	New(&buf).Index(&index.Result{
		Index:    idx,
		Warnings: []scanner.Warning{{Path: "bylaws/broken.md", Reason: "missing front matter"}},
		Notices:  []index.Notice{{Path: "zoning/lot.md", Reason: `unrecognized type "zoning"`}},
	})

	out := buf.String()
	assert.Contains(t, out, "bylaw, policy")
	assert.Contains(t, out, "draft, published")
	assert.Contains(t, out, "council")
	assert.Contains(t, out, "2024-03-01T12:00:00Z")
	assert.Contains(t, out, "Warnings (1)")
	assert.Contains(t, out, "bylaws/broken.md: missing front matter")
	assert.Contains(t, out, "Notices (1)")
	assert.Contains(t, out, `zoning/lot.md: unrecognized type "zoning"`)
	assert.NotContains(t, out, "Sync")
}

func TestPrinter_Outcome(t *testing.T) {
	var buf bytes.Buffer
	o := &sync.Outcome{
		RunID:              "run-1",
		TotalRecords:       4,
		Created:            1,
		Updated:            1,
		Conflicts:          2,
		ConflictResolution: sync.Manual,
		Details: map[string]*sync.TypeCounts{
			"policy": {Updated: 1},
			"bylaw":  {Created: 1},
		},
		Pending: []sync.PendingConflict{{
			ID: "b-2", Type: "bylaw",
			FileUpdatedAt:     generated,
			DatabaseUpdatedAt: generated.Add(-time.Hour),
		}},
		Errors: []*sync.RecordError{{ID: "r-9", Type: "resolution", Action: "create", Err: errors.New("unique violation")}},
	}

	New(&buf).Outcome(o)

	out := buf.String()
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "bylaw created 1, updated 0")
	assert.Contains(t, out, "Unresolved conflicts (1)")
	assert.Contains(t, out, "b-2 (bylaw) file updated 2024-03-01T12:00:00Z, database updated 2024-03-01T11:00:00Z")
	assert.Contains(t, out, "Failed writes (1)")
	assert.Contains(t, out, "failed to create record r-9: unique violation")

	// Types are listed in order
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("bylaw created")), bytes.Index(buf.Bytes(), []byte("policy created")))
}

func TestPrinter_Hits(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Hits([]index.Entry{{
		ID: "b-1", Title: "Noise Control Bylaw", Type: "bylaw", Status: "published",
		Tags: []string{"noise", "curfew"}, Path: "bylaws/noise.md",
	}})

	out := buf.String()
	assert.Contains(t, out, "1 matching records")
	assert.Contains(t, out, "Noise Control Bylaw")
	assert.Contains(t, out, "#noise #curfew")
	assert.Contains(t, out, "bylaws/noise.md")

	buf.Reset()
	New(&buf).Hits(nil)
	assert.Contains(t, buf.String(), "No matching records.")
}

func TestPrinter_Status(t *testing.T) {
	var buf bytes.Buffer
	last := generated
	New(&buf).Status(&db.Status{
		Driver: "sqlite", Location: "/data/records.db", Connected: true,
		TotalRecords: 3, ByType: map[string]int{"bylaw": 1, "policy": 2},
		LastSyncTime: &last,
	}, nil, "/records/index.json")

	out := buf.String()
	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "/data/records.db")
	assert.Contains(t, out, "policy 2")
	assert.Contains(t, out, "2024-03-01T12:00:00Z")
	assert.Contains(t, out, "/records/index.json")
	assert.Contains(t, out, "not generated")

	buf.Reset()
	New(&buf).Status(nil, index.NewIndex(nil, generated), "index.json")
	assert.Contains(t, buf.String(), "no")
	assert.Contains(t, buf.String(), "2024-03-01T12:00:00Z")
}

func TestPrinter_Registry(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Registry([]record.Type{"bylaw", "zoning"}, nil)

	out := buf.String()
	assert.Contains(t, out, "bylaw, zoning")
	assert.Contains(t, out, "none")
}
