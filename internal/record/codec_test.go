package record

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleEntity() *Entity {
	return &Entity{
		ID:      "rec-001",
		Title:   "Noise Control Bylaw",
		Type:    "bylaw",
		Status:  "published",
		Content: "# Noise Control\n\nQuiet hours are 23:00 to 07:00.\n",
		Author:  "jdoe",
		Authors: []Author{
			{Name: "Jane Doe", Username: "jdoe", Role: "author"},
			{Name: "Sam Roe", Username: "sroe", Role: "reviewer"},
		},
		CreatedAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 2, 1, 8, 30, 15, 123456000, time.UTC),
		Metadata: Metadata{
			Tags:    []string{"noise", "curfew"},
			Module:  "public-order",
			Slug:    "noise-control",
			Version: "3",
			Extra: map[string]any{
				"council_ref": "2024-17",
			},
		},
	}
}

func TestDecode_Basic(t *testing.T) {
	content := `---
id: rec-001
title: Noise Control Bylaw
type: bylaw
status: published
author: jdoe
authors:
  - name: Jane Doe
    username: jdoe
    role: author
created: 2024-01-15
updated: 2024-02-01T08:30:00Z
tags:
  - noise
  - curfew
module: public-order
slug: noise-control
version: 2
---

Quiet hours are 23:00 to 07:00.
`

	e, err := Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.ID != "rec-001" || e.Title != "Noise Control Bylaw" {
		t.Errorf("unexpected id/title: %q %q", e.ID, e.Title)
	}
	if e.Type != "bylaw" || e.Status != "published" {
		t.Errorf("unexpected type/status: %q %q", e.Type, e.Status)
	}
	if len(e.Authors) != 1 || e.Authors[0].Username != "jdoe" || e.Authors[0].Role != "author" {
		t.Errorf("unexpected authors: %+v", e.Authors)
	}
	if len(e.Metadata.Tags) != 2 || e.Metadata.Tags[0] != "noise" || e.Metadata.Tags[1] != "curfew" {
		t.Errorf("expected tags [noise curfew], got %v", e.Metadata.Tags)
	}
	if e.Metadata.Version != "2" {
		t.Errorf("expected version '2', got %q", e.Metadata.Version)
	}
	if !e.CreatedAt.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created: %v", e.CreatedAt)
	}
	if e.UpdatedAt.Hour() != 8 || e.UpdatedAt.Minute() != 30 {
		t.Errorf("unexpected updated: %v", e.UpdatedAt)
	}

	expected := "Quiet hours are 23:00 to 07:00.\n"
	if e.Content != expected {
		t.Errorf("expected body %q, got %q", expected, e.Content)
	}
}

func TestDecode_MissingRequiredField(t *testing.T) {
	base := map[string]string{
		"id":     "id: rec-1",
		"title":  "title: A title",
		"type":   "type: policy",
		"status": "status: draft",
	}

	for missing := range base {
		t.Run(missing, func(t *testing.T) {
			var lines []string
			for _, key := range []string{"id", "title", "type", "status"} {
				if key != missing {
					lines = append(lines, base[key])
				}
			}
			content := "---\n" + strings.Join(lines, "\n") + "\n---\n\nbody\n"

			_, err := Decode([]byte(content))
			if !errors.Is(err, ErrMalformedFrontMatter) {
				t.Fatalf("expected ErrMalformedFrontMatter, got %v", err)
			}

			var de *DecodeError
			if !errors.As(err, &de) || de.Field != missing {
				t.Errorf("expected DecodeError for field %q, got %v", missing, err)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no front matter", "Just some content without front matter."},
		{"unterminated block", "---\nid: x\ntitle: y\n"},
		{"invalid yaml", "---\nid: [unclosed\n---\nbody"},
		{"scalar document", "---\njust a string\n---\nbody"},
		{"bad date", "---\nid: a\ntitle: b\ntype: bylaw\nstatus: draft\ncreated: someday\n---\n"},
		{"invalid utf8", string([]byte{'-', '-', '-', '\n', 0xff, 0xfe, '\n', '-', '-', '-', '\n'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.content))
			if !errors.Is(err, ErrMalformedFrontMatter) {
				t.Errorf("expected ErrMalformedFrontMatter, got %v", err)
			}
		})
	}
}

func TestDecode_TagsAsString(t *testing.T) {
	content := "---\nid: a\ntitle: b\ntype: policy\nstatus: draft\ntags: zoning, parking, zoning\n---\n"

	e, err := Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(e.Metadata.Tags) != 2 || e.Metadata.Tags[0] != "zoning" || e.Metadata.Tags[1] != "parking" {
		t.Errorf("expected tags [zoning parking], got %v", e.Metadata.Tags)
	}
}

func TestDecode_AuthorsAsNames(t *testing.T) {
	content := "---\nid: a\ntitle: b\ntype: policy\nstatus: draft\nauthors:\n  - Jane Doe\n  - name: Sam Roe\n    role: editor\n---\n"

	e, err := Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(e.Authors) != 2 || e.Authors[0].Name != "Jane Doe" || e.Authors[1].Role != "editor" {
		t.Errorf("unexpected authors: %+v", e.Authors)
	}
}

func TestDecode_IgnoresWorkflowState(t *testing.T) {
	content := "---\nid: a\ntitle: b\ntype: policy\nstatus: draft\nworkflow_state: awaiting_signature\n---\n"

	e, err := Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.WorkflowState != "" {
		t.Errorf("workflow state must not be read from file, got %q", e.WorkflowState)
	}
	if _, ok := e.Metadata.Extra[WorkflowStateKey]; ok {
		t.Error("workflow state must not leak into extra metadata")
	}
}

func TestDecode_TimestampDefaults(t *testing.T) {
	content := "---\nid: a\ntitle: b\ntype: policy\nstatus: draft\ncreated: 2024-03-01\nupdated: 2024-02-01\n---\n"

	e, err := Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.UpdatedAt.Before(e.CreatedAt) {
		t.Errorf("updated %v must not precede created %v", e.UpdatedAt, e.CreatedAt)
	}

	content = "---\nid: a\ntitle: b\ntype: policy\nstatus: draft\nupdated: 2024-02-01\n---\n"
	e, err = Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.CreatedAt.Equal(e.UpdatedAt) {
		t.Errorf("missing created should take updated, got %v / %v", e.CreatedAt, e.UpdatedAt)
	}
}

func TestDecode_CRLF(t *testing.T) {
	content := "---\r\nid: a\r\ntitle: b\r\ntype: policy\r\nstatus: draft\r\n---\r\n\r\nline one\r\n"

	e, err := Decode([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Content != "line one\n" {
		t.Errorf("unexpected body %q", e.Content)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Entity)
	}{
		{"full", func(e *Entity) {}},
		{"no optional fields", func(e *Entity) {
			e.Authors = nil
			e.Metadata = Metadata{}
		}},
		{"numeric looking strings", func(e *Entity) {
			e.ID = "42"
			e.Title = "true"
			e.Metadata.Version = "1.10"
		}},
		{"body with leading blank line", func(e *Entity) {
			e.Content = "\n\nindented start\n"
		}},
		{"body containing delimiter", func(e *Entity) {
			e.Content = "before\n---\nafter\n"
		}},
		{"empty body", func(e *Entity) {
			e.Content = ""
		}},
		{"nested extra", func(e *Entity) {
			e.Metadata.Extra = map[string]any{
				"approval": map[string]any{"motion": "M-12", "votes": 7},
				"wards":    []any{"north", "east"},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleEntity()
			tt.mutate(e)

			data, err := Encode(e)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("decode failed: %v\n%s", err, data)
			}

			if !Equal(e, decoded) {
				t.Errorf("round trip mismatch\nwant %+v\ngot  %+v\nfile:\n%s", e, decoded, data)
			}
		})
	}
}

func TestEncode_OmitsWorkflowState(t *testing.T) {
	e := sampleEntity()
	e.WorkflowState = "awaiting_signature"
	e.Metadata.Extra[WorkflowStateKey] = "legacy"

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if strings.Contains(string(data), WorkflowStateKey) || strings.Contains(string(data), "awaiting_signature") {
		t.Errorf("workflow state leaked into file:\n%s", data)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	e := sampleEntity()
	e.Metadata.Extra = map[string]any{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := Encode(e)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Encode(e)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("encoding is not stable:\n%s\nvs\n%s", first, again)
		}
	}

	text := string(first)
	if !strings.HasPrefix(text, "---\nid: rec-001\ntitle: Noise Control Bylaw\ntype: bylaw\nstatus: published\n") {
		t.Errorf("unexpected field order:\n%s", text)
	}
	if strings.Index(text, "alpha") > strings.Index(text, "zeta") {
		t.Errorf("extra keys should be sorted:\n%s", text)
	}
}

func TestEqual(t *testing.T) {
	a := sampleEntity()
	b := sampleEntity()
	if !Equal(a, b) {
		t.Fatal("identical entities should be equal")
	}

	b.WorkflowState = "in_review"
	if !Equal(a, b) {
		t.Error("workflow state must not affect equality")
	}

	b.UpdatedAt = b.UpdatedAt.In(time.FixedZone("EST", -5*3600))
	if !Equal(a, b) {
		t.Error("same instant in another zone should be equal")
	}

	b.Metadata.Extra = map[string]any{"council_ref": "2024-17"}
	if !Equal(a, b) {
		t.Error("equivalent extra should be equal")
	}

	c := sampleEntity()
	c.Metadata.Tags = []string{"curfew", "noise"}
	if Equal(a, c) {
		t.Error("tag order change should be detected")
	}

	d := sampleEntity()
	d.Authors[1].Role = "author"
	if Equal(a, d) {
		t.Error("author change should be detected")
	}

	n1 := sampleEntity()
	n1.Metadata.Extra = map[string]any{"votes": 7}
	n2 := sampleEntity()
	n2.Metadata.Extra = map[string]any{"votes": float64(7)}
	if !Equal(n1, n2) {
		t.Error("numbers from a JSON column should equal YAML ints")
	}
}
