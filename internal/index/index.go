// Package index builds, persists and queries the denormalized listing of
// every record in a record store.
package index

import (
	"sort"
	"time"

	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/scanner"
)

// Entry is the listing projection of one record. It carries no body.
type Entry struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Type      record.Type     `json:"type"`
	Status    record.Status   `json:"status"`
	Author    string          `json:"author,omitempty"`
	Authors   []record.Author `json:"authors,omitempty"`
	CreatedAt time.Time       `json:"created"`
	UpdatedAt time.Time       `json:"updated"`
	Tags      []string        `json:"tags,omitempty"`
	Module    string          `json:"module,omitempty"`
	Slug      string          `json:"slug,omitempty"`
	Version   string          `json:"version,omitempty"`
	Path      string          `json:"path"`
	File      string          `json:"file"`
	Checksum  string          `json:"checksum,omitempty"`
}

// NewEntry projects a scanned record.
func NewEntry(rec scanner.Record) Entry {
	e := rec.Entity
	return Entry{
		ID:        e.ID,
		Title:     e.Title,
		Type:      e.Type,
		Status:    e.Status,
		Author:    e.Author,
		Authors:   e.Authors,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Tags:      e.Metadata.Tags,
		Module:    e.Metadata.Module,
		Slug:      e.Metadata.Slug,
		Version:   e.Metadata.Version,
		Path:      rec.Path,
		File:      rec.File(),
		Checksum:  rec.Checksum,
	}
}

// Metadata summarizes the entries of one Index.
type Metadata struct {
	TotalRecords int       `json:"totalRecords"`
	Modules      []string  `json:"modules"`
	Types        []string  `json:"types"`
	Statuses     []string  `json:"statuses"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Index is one generation of the record listing. It is replaced wholesale
// by the next generation and never patched.
type Index struct {
	Entries  []Entry  `json:"entries"`
	Metadata Metadata `json:"metadata"`
}

// NewIndex wraps entries and derives the metadata from exactly those
// entries. Empty values are left out of the distinct sets.
func NewIndex(entries []Entry, generatedAt time.Time) *Index {
	if entries == nil {
		entries = []Entry{}
	}

	modules := make(map[string]struct{})
	types := make(map[string]struct{})
	statuses := make(map[string]struct{})
	for _, e := range entries {
		addValue(modules, e.Module)
		addValue(types, string(e.Type))
		addValue(statuses, string(e.Status))
	}

	return &Index{
		Entries: entries,
		Metadata: Metadata{
			TotalRecords: len(entries),
			Modules:      sortedKeys(modules),
			Types:        sortedKeys(types),
			Statuses:     sortedKeys(statuses),
			GeneratedAt:  generatedAt.UTC(),
		},
	}
}

func addValue(set map[string]struct{}, v string) {
	if v != "" {
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
