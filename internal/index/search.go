package index

import (
	"strings"

	"github.com/vonshlovens/recordsync/internal/record"
)

// Filters narrow a search. Zero values match everything. Tags match when the
// entry carries at least one of them.
type Filters struct {
	Type   record.Type
	Status record.Status
	Module string
	Tags   []string
}

// Search returns the entries of idx that contain query (case-insensitive) in
// the title, a tag or an author name and pass every filter. The query is a
// literal substring, surrounding spaces included. Results keep the index order.
func Search(idx *Index, query string, f Filters) []Entry {
	if idx == nil {
		return nil
	}

	q := strings.ToLower(query)
	out := make([]Entry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		if !f.match(e) {
			continue
		}
		if q != "" && !containsQuery(e, q) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (f Filters) match(e Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, want := range f.Tags {
		for _, tag := range e.Tags {
			if tag == want {
				return true
			}
		}
	}
	return false
}

func containsQuery(e Entry, q string) bool {
	if strings.Contains(strings.ToLower(e.Title), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(e.Author), q) {
		return true
	}
	for _, a := range e.Authors {
		if strings.Contains(strings.ToLower(a.Name), q) {
			return true
		}
	}
	return false
}
