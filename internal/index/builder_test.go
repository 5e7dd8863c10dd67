package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/sync"
)

var generatedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	path, id, typ, status, module, tags string
}

func writeStore(t *testing.T, files ...fixture) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		var extra string
		if f.id != "" {
			extra += "id: " + f.id + "\n"
		}
		if f.module != "" {
			extra += "module: " + f.module + "\n"
		}
		if f.tags != "" {
			extra += "tags: [" + f.tags + "]\n"
		}
		content := fmt.Sprintf("---\n%stitle: %s record\ntype: %s\nstatus: %s\nauthor: Jane Clerk\ncreated: 2024-01-01\nupdated: 2024-02-01\n---\n\nBody\n",
			extra, f.typ, f.typ, f.status)

		path := filepath.Join(root, filepath.FromSlash(f.path))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func threeRecords(t *testing.T) string {
	return writeStore(t,
		fixture{path: "bylaws/noise.md", id: "b-1", typ: "bylaw", status: "published", module: "council", tags: "noise, curfew"},
		fixture{path: "policies/parking.md", id: "p-1", typ: "policy", status: "draft", module: "transport"},
		fixture{path: "resolutions/budget.md", id: "r-1", typ: "resolution", status: "pending_review", module: "council"},
	)
}

func newTestBuilder(root string, opts ...BuilderOption) *Builder {
	b := NewBuilder(root, opts...)
	b.now = func() time.Time { return generatedAt }
	return b
}

type fakeSyncer struct {
	calls    int
	entities []*record.Entity
	strategy sync.Strategy
	outcome  *sync.Outcome
	err      error
}

func (f *fakeSyncer) Sync(ctx context.Context, entities []*record.Entity, strategy sync.Strategy) (*sync.Outcome, error) {
	f.calls++
	f.entities = entities
	f.strategy = strategy
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &sync.Outcome{TotalRecords: len(entities), ConflictResolution: strategy}, nil
}

func assertMetadataConsistent(t *testing.T, idx *Index) {
	t.Helper()
	assert.Equal(t, len(idx.Entries), idx.Metadata.TotalRecords)

	want := NewIndex(idx.Entries, idx.Metadata.GeneratedAt).Metadata
	assert.Equal(t, want.Types, idx.Metadata.Types)
	assert.Equal(t, want.Statuses, idx.Metadata.Statuses)
	assert.Equal(t, want.Modules, idx.Metadata.Modules)
}

func TestGenerate_All(t *testing.T) {
	res, err := newTestBuilder(threeRecords(t)).Generate(context.Background(), Options{})
	require.NoError(t, err)

	idx := res.Index
	require.Len(t, idx.Entries, 3)
	assert.Equal(t, 3, idx.Metadata.TotalRecords)
	assert.Equal(t, []string{"bylaw", "policy", "resolution"}, idx.Metadata.Types)
	assert.Equal(t, []string{"draft", "pending_review", "published"}, idx.Metadata.Statuses)
	assert.Equal(t, []string{"council", "transport"}, idx.Metadata.Modules)
	assert.Equal(t, generatedAt, idx.Metadata.GeneratedAt)
	assert.Empty(t, res.Warnings)
	assert.Nil(t, res.Sync)

	e := idx.Entries[0]
	assert.Equal(t, "b-1", e.ID)
	assert.Equal(t, "bylaws/noise.md", e.Path)
	assert.Equal(t, "noise.md", e.File)
	assert.Equal(t, []string{"noise", "curfew"}, e.Tags)
	assert.Equal(t, "Jane Clerk", e.Author)
	assert.Len(t, e.Checksum, 64)
}

func TestGenerate_FilterByType(t *testing.T) {
	res, err := newTestBuilder(threeRecords(t)).Generate(context.Background(), Options{Types: []record.Type{"bylaw"}})
	require.NoError(t, err)

	require.Len(t, res.Index.Entries, 1)
	assert.Equal(t, record.Type("bylaw"), res.Index.Entries[0].Type)
	assert.Equal(t, 1, res.Index.Metadata.TotalRecords)
	assert.Equal(t, []string{"bylaw"}, res.Index.Metadata.Types)
	assert.Equal(t, []string{"published"}, res.Index.Metadata.Statuses)
	assert.Equal(t, []string{"council"}, res.Index.Metadata.Modules)
}

func TestGenerate_Filters(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"module", Options{Modules: []string{"council"}}, []string{"b-1", "r-1"}},
		{"status", Options{Statuses: []record.Status{"draft", "published"}}, []string{"b-1", "p-1"}},
		{"every dimension", Options{Modules: []string{"council"}, Statuses: []record.Status{"draft", "published"}}, []string{"b-1"}},
		{"no match", Options{Types: []record.Type{"proclamation"}}, []string{}},
		{"subdirs", Options{Subdirs: []string{"policies"}}, []string{"p-1"}},
	}

	root := threeRecords(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestBuilder(root).Generate(context.Background(), tt.opts)
			require.NoError(t, err)

			ids := []string{}
			for _, e := range res.Index.Entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
			assertMetadataConsistent(t, res.Index)
		})
	}
}

func TestGenerate_MalformedFileIsWarning(t *testing.T) {
	root := writeStore(t,
		fixture{path: "a.md", id: "a", typ: "bylaw", status: "published"},
		fixture{path: "b.md", id: "b", typ: "policy", status: "draft"},
		fixture{path: "c.md", typ: "resolution", status: "draft"},
	)

	res, err := newTestBuilder(root).Generate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Index.Metadata.TotalRecords)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "c.md", res.Warnings[0].Path)
}

func TestGenerate_UnreadableRoot(t *testing.T) {
	_, err := newTestBuilder(filepath.Join(t.TempDir(), "missing")).Generate(context.Background(), Options{})
	assert.Error(t, err)
}

func TestGenerate_RegistryNotices(t *testing.T) {
	root := writeStore(t,
		fixture{path: "a.md", id: "a", typ: "bylaw", status: "published"},
		fixture{path: "b.md", id: "b", typ: "zoning", status: "tabled"},
	)

	res, err := newTestBuilder(root, WithRegistry(record.NewRegistry())).Generate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Index.Metadata.TotalRecords, "unrecognized values are kept")
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Notices, 2)
	assert.Equal(t, "b.md", res.Notices[0].Path)
	assert.Contains(t, res.Notices[0].Reason, `unrecognized type "zoning"`)
	assert.Contains(t, res.Notices[1].Reason, `unrecognized status "tabled"`)
}

func TestGenerate_MalformedFileWithRegistry(t *testing.T) {
	root := writeStore(t,
		fixture{path: "a.md", id: "a", typ: "bylaw", status: "published"},
		fixture{path: "b.md", id: "b", typ: "zoning", status: "draft"},
		fixture{path: "c.md", typ: "resolution", status: "draft"},
	)

	res, err := newTestBuilder(root, WithRegistry(record.NewRegistry())).Generate(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Index.Metadata.TotalRecords)
	require.Len(t, res.Warnings, 1, "only decode failures are scan warnings")
	assert.Equal(t, "c.md", res.Warnings[0].Path)
	require.Len(t, res.Notices, 1)
	assert.Equal(t, "b.md", res.Notices[0].Path)
}

func TestGenerate_SubdirsDoNotNarrowSync(t *testing.T) {
	syncer := &fakeSyncer{}
	b := newTestBuilder(threeRecords(t), WithSyncer(syncer))

	res, err := b.Generate(context.Background(), Options{
		Subdirs:      []string{"bylaws"},
		SyncDatabase: true,
	})
	require.NoError(t, err)

	assert.Len(t, syncer.entities, 3, "records outside the subdir are still reconciled")
	require.Len(t, res.Index.Entries, 1)
	assert.Equal(t, "bylaws/noise.md", res.Index.Entries[0].Path)
	assertMetadataConsistent(t, res.Index)
}

func TestGenerate_SubdirsWithoutSync(t *testing.T) {
	res, err := newTestBuilder(threeRecords(t)).Generate(context.Background(), Options{
		Subdirs: []string{"policies/", "resolutions"},
	})
	require.NoError(t, err)

	var paths []string
	for _, e := range res.Index.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"policies/parking.md", "resolutions/budget.md"}, paths)
}

func TestGenerate_SubdirOutsideStore(t *testing.T) {
	syncer := &fakeSyncer{}
	_, err := newTestBuilder(threeRecords(t), WithSyncer(syncer)).Generate(context.Background(), Options{
		Subdirs:      []string{"../elsewhere"},
		SyncDatabase: true,
	})
	assert.Error(t, err)
	assert.Zero(t, syncer.calls)
}

func TestGenerate_SyncUsesFullScan(t *testing.T) {
	syncer := &fakeSyncer{}
	b := newTestBuilder(threeRecords(t), WithSyncer(syncer))

	res, err := b.Generate(context.Background(), Options{
		Types:        []record.Type{"bylaw"},
		SyncDatabase: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, syncer.calls)
	assert.Len(t, syncer.entities, 3)
	assert.Equal(t, sync.FileWins, syncer.strategy)
	require.NotNil(t, res.Sync)
	assert.Len(t, res.Index.Entries, 1)
}

func TestGenerate_SyncStrategy(t *testing.T) {
	syncer := &fakeSyncer{}
	b := newTestBuilder(threeRecords(t), WithSyncer(syncer))

	_, err := b.Generate(context.Background(), Options{SyncDatabase: true, ConflictResolution: sync.Timestamp})
	require.NoError(t, err)
	assert.Equal(t, sync.Timestamp, syncer.strategy)
}

func TestGenerate_InvalidStrategyRejectedUpFront(t *testing.T) {
	syncer := &fakeSyncer{}
	store := NewStore(filepath.Join(t.TempDir(), "index.json"))
	b := newTestBuilder(threeRecords(t), WithSyncer(syncer), WithStore(store))

	_, err := b.Generate(context.Background(), Options{SyncDatabase: true, ConflictResolution: sync.Strategy(9)})
	assert.ErrorIs(t, err, sync.ErrInvalidConflictStrategy)
	assert.Zero(t, syncer.calls)

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerate_SyncWithoutDatabase(t *testing.T) {
	_, err := newTestBuilder(threeRecords(t)).Generate(context.Background(), Options{SyncDatabase: true})
	assert.Error(t, err)
}

func TestGenerate_SyncFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("connection refused")}
	_, err := newTestBuilder(threeRecords(t), WithSyncer(syncer)).Generate(context.Background(), Options{SyncDatabase: true})
	assert.ErrorContains(t, err, "connection refused")
}

func TestGenerate_PersistsOnlyFullIndexes(t *testing.T) {
	root := threeRecords(t)
	store := NewStore(filepath.Join(root, DefaultFileName))
	cache := NewCache(store)
	b := newTestBuilder(root, WithStore(store), WithCache(cache))

	_, err := b.Generate(context.Background(), Options{Types: []record.Type{"bylaw"}})
	require.NoError(t, err)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	res, err := b.Generate(context.Background(), Options{})
	require.NoError(t, err)
	loaded, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.Metadata.TotalRecords)

	cached, err := cache.Get()
	require.NoError(t, err)
	assert.Same(t, res.Index, cached)

	// The artifact at the root is not mistaken for a record
	again, err := b.Generate(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, again.Warnings)
}

func TestGenerate_FilteredSyncInvalidatesCache(t *testing.T) {
	syncer := &fakeSyncer{outcome: &sync.Outcome{Updated: 1}}
	cache := NewCache(nil)
	cache.Set(&Index{})
	b := newTestBuilder(threeRecords(t), WithSyncer(syncer), WithCache(cache))

	_, err := b.Generate(context.Background(), Options{Types: []record.Type{"bylaw"}, SyncDatabase: true})
	require.NoError(t, err)

	cached, err := cache.Get()
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestCurrent(t *testing.T) {
	root := threeRecords(t)
	store := NewStore(filepath.Join(root, DefaultFileName))
	b := newTestBuilder(root, WithStore(store), WithCache(NewCache(store)))

	idx, err := b.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Metadata.TotalRecords)

	// A second call is served from the cache even after the files change
	require.NoError(t, os.Remove(filepath.Join(root, "policies", "parking.md")))
	again, err := b.Current(context.Background())
	require.NoError(t, err)
	assert.Same(t, idx, again)
}

func TestCurrent_CorruptArtifactIsRegenerated(t *testing.T) {
	root := threeRecords(t)
	store := NewStore(filepath.Join(root, DefaultFileName))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0644))

	b := newTestBuilder(root, WithStore(store), WithCache(NewCache(store)))
	idx, err := b.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Metadata.TotalRecords)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Metadata.TotalRecords)
}
