package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// WorkflowStateKey is the front-matter key of the database-only workflow
// state. Decode drops it and Encode never writes it.
const WorkflowStateKey = "workflow_state"

var (
	// frontMatterRegex matches the YAML block between --- delimiters
	frontMatterRegex = regexp.MustCompile(`(?s)^---\n(.+?)\n---[ \t]*(?:\n|$)`)

	// Date formats accepted for created/updated
	dateFormats = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}

	knownKeys = map[string]bool{
		"id": true, "title": true, "type": true, "status": true,
		"author": true, "authors": true, "created": true, "updated": true,
		"tags": true, "module": true, "slug": true, "version": true,
		WorkflowStateKey: true,
	}
)

// ErrMalformedFrontMatter is matched by every decode failure.
var ErrMalformedFrontMatter = errors.New("malformed front matter")

// DecodeError describes why a record file could not be decoded.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := ErrMalformedFrontMatter.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedFrontMatter, e.Err}
	}
	return []error{ErrMalformedFrontMatter}
}

// flexibleTime accepts the date layouts people actually type in front matter.
type flexibleTime struct {
	time.Time
}

func (ft *flexibleTime) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, str); err == nil {
			ft.Time = NormalizeTime(t)
			return nil
		}
	}

	return fmt.Errorf("unrecognized date %q", str)
}

// UnmarshalYAML lets an author be written as a bare name.
func (a *Author) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Name = strings.TrimSpace(value.Value)
		return nil
	}

	type plain Author
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = Author(p)
	return nil
}

type rawFrontMatter struct {
	ID      string       `yaml:"id"`
	Title   string       `yaml:"title"`
	Type    string       `yaml:"type"`
	Status  string       `yaml:"status"`
	Author  string       `yaml:"author"`
	Authors []Author     `yaml:"authors"`
	Created flexibleTime `yaml:"created"`
	Updated flexibleTime `yaml:"updated"`
	Tags    interface{}  `yaml:"tags"` // Can be string or []string
	Module  string       `yaml:"module"`
	Slug    string       `yaml:"slug"`
	Version string       `yaml:"version"`
}

// Decode parses a record file. It never touches the filesystem.
func Decode(data []byte) (*Entity, error) {
	if !utf8.Valid(data) {
		return nil, &DecodeError{Reason: "file is not valid UTF-8"}
	}

	content := strings.TrimPrefix(string(data), "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")

	match := frontMatterRegex.FindStringSubmatch(content)
	if match == nil {
		return nil, &DecodeError{Reason: "no front matter block"}
	}

	yamlContent := match[1]
	body := strings.TrimPrefix(content[len(match[0]):], "\n")

	var raw rawFrontMatter
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return nil, &DecodeError{Reason: "invalid YAML", Err: err}
	}

	required := []struct {
		name  string
		value string
	}{
		{"id", raw.ID},
		{"title", raw.Title},
		{"type", raw.Type},
		{"status", raw.Status},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, &DecodeError{Field: f.name, Reason: "required field is missing"}
		}
	}

	e := &Entity{
		ID:      strings.TrimSpace(raw.ID),
		Title:   raw.Title,
		Type:    Type(strings.TrimSpace(raw.Type)),
		Status:  Status(strings.TrimSpace(raw.Status)),
		Content: body,
		Author:  strings.TrimSpace(raw.Author),
		Authors: raw.Authors,
		Metadata: Metadata{
			Tags:    normalizeTags(raw.Tags),
			Module:  strings.TrimSpace(raw.Module),
			Slug:    strings.TrimSpace(raw.Slug),
			Version: strings.TrimSpace(raw.Version),
		},
	}

	created, updated := raw.Created.Time, raw.Updated.Time
	switch {
	case created.IsZero():
		created = updated
	case updated.IsZero():
		updated = created
	}
	if updated.Before(created) {
		updated = created
	}
	e.CreatedAt, e.UpdatedAt = created, updated

	// Everything we don't model explicitly is kept in Extra
	var allFields map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &allFields); err == nil {
		for k, v := range allFields {
			if knownKeys[k] {
				continue
			}
			if e.Metadata.Extra == nil {
				e.Metadata.Extra = make(map[string]any)
			}
			e.Metadata.Extra[k] = v
		}
	}

	return e, nil
}

// Encode renders e as a record file. Keys are written in a fixed order with
// unknown keys last in lexical order, so equal entities encode identically.
func Encode(e *Entity) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}

	fields := []struct {
		key   string
		value any
		keep  bool
	}{
		{"id", e.ID, true},
		{"title", e.Title, true},
		{"type", string(e.Type), true},
		{"status", string(e.Status), true},
		{"author", e.Author, true},
		{"authors", e.Authors, len(e.Authors) > 0},
		{"created", NormalizeTime(e.CreatedAt), !e.CreatedAt.IsZero()},
		{"updated", NormalizeTime(e.UpdatedAt), !e.UpdatedAt.IsZero()},
		{"tags", e.Metadata.Tags, len(e.Metadata.Tags) > 0},
		{"module", e.Metadata.Module, e.Metadata.Module != ""},
		{"slug", e.Metadata.Slug, e.Metadata.Slug != ""},
		{"version", e.Metadata.Version, e.Metadata.Version != ""},
	}
	for _, f := range fields {
		if !f.keep {
			continue
		}
		if err := appendField(doc, f.key, f.value); err != nil {
			return nil, err
		}
	}

	extraKeys := make([]string, 0, len(e.Metadata.Extra))
	for k := range e.Metadata.Extra {
		if !knownKeys[k] {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if err := appendField(doc, k, e.Metadata.Extra[k]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(e.Content)

	return buf.Bytes(), nil
}

func appendField(doc *yaml.Node, key string, value any) error {
	var k, v yaml.Node
	k.SetString(key)
	if err := v.Encode(value); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	doc.Content = append(doc.Content, &k, &v)
	return nil
}

// Equal reports whether a and b agree on every field that lives in the
// record file. WorkflowState is ignored.
func Equal(a, b *Entity) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Title != b.Title || a.Type != b.Type || a.Status != b.Status ||
		a.Content != b.Content || a.Author != b.Author {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if len(a.Authors) != len(b.Authors) {
		return false
	}
	for i := range a.Authors {
		if a.Authors[i] != b.Authors[i] {
			return false
		}
	}
	am, bm := a.Metadata, b.Metadata
	if am.Module != bm.Module || am.Slug != bm.Slug || am.Version != bm.Version {
		return false
	}
	if len(am.Tags) != len(bm.Tags) {
		return false
	}
	for i := range am.Tags {
		if am.Tags[i] != bm.Tags[i] {
			return false
		}
	}
	return sameExtra(am.Extra, bm.Extra)
}

// sameExtra compares through JSON so values read back from a JSON column
// (numbers as json.Number or float64) still compare equal to YAML-decoded ones.
func sameExtra(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// normalizeTags converts string or []interface{} to a de-duplicated []string,
// keeping first-seen order for display
func normalizeTags(v interface{}) []string {
	var raw []string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(val, ",")
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			} else if item != nil {
				raw = append(raw, fmt.Sprint(item))
			}
		}
	default:
		return nil
	}

	seen := make(map[string]bool)
	var tags []string
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}
