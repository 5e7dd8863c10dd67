// Package record defines the civic record entity and the codec that maps it
// to and from its on-disk form: a YAML front-matter block followed by the
// Markdown body.
package record

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Type names a record category such as "bylaw" or "policy". The set of
// recognized values is open and lives in a Registry.
type Type string

// Status names a workflow status such as "draft" or "published".
type Status string

// Author is one entry of the ordered attribution list.
type Author struct {
	Name     string `yaml:"name" json:"name"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Role     string `yaml:"role,omitempty" json:"role,omitempty"`
}

// Metadata holds the open part of the front matter. Extra carries any key the
// codec does not know about so it survives a decode/encode cycle.
type Metadata struct {
	Tags    []string       `json:"tags,omitempty"`
	Module  string         `json:"module,omitempty"`
	Slug    string         `json:"slug,omitempty"`
	Version string         `json:"version,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Entity is the canonical decoded form of one record file.
type Entity struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Authors   []Author  `json:"authors,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  Metadata  `json:"metadata"`

	// WorkflowState is owned by the database projection. It is never written
	// to a record file and never read from one.
	WorkflowState string `json:"workflow_state,omitempty"`
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// New returns a draft-ready entity with a fresh ID. The slug is derived from
// the title.
func New(typ Type, status Status, title string, now time.Time) *Entity {
	now = NormalizeTime(now)
	return &Entity{
		ID:        NewID(),
		Title:     title,
		Type:      typ,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  Metadata{Slug: Slugify(title)},
	}
}

// Slugify lowercases s and joins its letter and digit runs with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			hyphen = false
			continue
		}
		hyphen = true
	}
	return b.String()
}

// NormalizeTime brings a timestamp to the precision both stores can hold.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}
