// Package report renders command results for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vonshlovens/recordsync/internal/db"
	"github.com/vonshlovens/recordsync/internal/index"
	"github.com/vonshlovens/recordsync/internal/record"
	"github.com/vonshlovens/recordsync/internal/scanner"
	"github.com/vonshlovens/recordsync/internal/sync"
)

// Printer writes styled reports to one writer. Colors are dropped when the
// writer is not a terminal.
type Printer struct {
	w io.Writer

	title lipgloss.Style
	label lipgloss.Style
	good  lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
}

// New creates a Printer for w
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w: w,
		title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")),
		label: r.NewStyle().
			Bold(true).
			Width(16),
		good:  r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:   r.NewStyle().Foreground(lipgloss.Color("9")),
		muted: r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
	}
}

func (p *Printer) heading(s string) {
	fmt.Fprintln(p.w, p.title.Render(s))
}

func (p *Printer) row(label string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.label.Render(label), value)
}

// Index prints the summary of one index generation
func (p *Printer) Index(res *index.Result) {
	meta := res.Index.Metadata

	p.heading("Index")
	p.row("Records", meta.TotalRecords)
	p.row("Types", joinOrNone(meta.Types))
	p.row("Statuses", joinOrNone(meta.Statuses))
	p.row("Modules", joinOrNone(meta.Modules))
	p.row("Generated", meta.GeneratedAt.Format(time.RFC3339))

	p.Warnings(res.Warnings)
	p.Notices(res.Notices)
	if res.Sync != nil {
		fmt.Fprintln(p.w)
		p.Outcome(res.Sync)
	}
}

// Warnings prints skipped files, if any
func (p *Printer) Warnings(warnings []scanner.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	p.heading(fmt.Sprintf("Warnings (%d)", len(warnings)))
	for _, w := range warnings {
		fmt.Fprintf(p.w, "  %s %s\n", p.warn.Render("!"), w.String())
	}
}

// Notices prints indexed records with unrecognized values, if any
func (p *Printer) Notices(notices []index.Notice) {
	if len(notices) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	p.heading(fmt.Sprintf("Notices (%d)", len(notices)))
	for _, n := range notices {
		fmt.Fprintf(p.w, "  %s %s\n", p.muted.Render("i"), n.String())
	}
}

// Outcome prints the result of one sync run
func (p *Printer) Outcome(o *sync.Outcome) {
	p.heading("Sync")
	p.row("Run", o.RunID)
	p.row("Strategy", o.ConflictResolution)
	p.row("Records", o.TotalRecords)
	p.row("Created", p.good.Render(fmt.Sprint(o.Created)))
	p.row("Updated", p.good.Render(fmt.Sprint(o.Updated)))
	p.row("Conflicts", o.Conflicts)
	if o.Duration > 0 {
		p.row("Duration", o.Duration.Round(time.Millisecond))
	}

	types := make([]string, 0, len(o.Details))
	for typ := range o.Details {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		c := o.Details[typ]
		fmt.Fprintf(p.w, "    %s created %d, updated %d\n", p.muted.Render(typ), c.Created, c.Updated)
	}

	if len(o.Pending) > 0 {
		fmt.Fprintln(p.w)
		p.heading(fmt.Sprintf("Unresolved conflicts (%d)", len(o.Pending)))
		for _, c := range o.Pending {
			fmt.Fprintf(p.w, "  %s %s (%s) file updated %s, database updated %s\n",
				p.warn.Render("?"), c.ID, c.Type,
				formatTime(c.FileUpdatedAt), formatTime(c.DatabaseUpdatedAt))
		}
	}

	if len(o.Errors) > 0 {
		fmt.Fprintln(p.w)
		p.heading(fmt.Sprintf("Failed writes (%d)", len(o.Errors)))
		for _, e := range o.Errors {
			fmt.Fprintf(p.w, "  %s %s\n", p.bad.Render("x"), e.Error())
		}
	}
}

// Hits prints search results
func (p *Printer) Hits(hits []index.Entry) {
	if len(hits) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("No matching records."))
		return
	}

	p.heading(fmt.Sprintf("%d matching records", len(hits)))
	for _, h := range hits {
		fmt.Fprintf(p.w, "  %s  %s\n", p.label.Render(h.ID), h.Title)

		details := []string{string(h.Type), string(h.Status)}
		if h.Module != "" {
			details = append(details, h.Module)
		}
		if len(h.Tags) > 0 {
			details = append(details, "#"+strings.Join(h.Tags, " #"))
		}
		fmt.Fprintf(p.w, "  %s  %s\n", p.label.Render(""), p.muted.Render(strings.Join(details, " · ")+"  "+h.Path))
	}
}

// Status prints the state of the projection and of the index artifact.
// Either argument may be nil.
func (p *Printer) Status(st *db.Status, idx *index.Index, indexPath string) {
	p.heading("Database")
	if st == nil {
		p.row("Connected", p.bad.Render("no"))
	} else {
		p.row("Driver", st.Driver)
		p.row("Location", st.Location)
		p.row("Connected", p.good.Render("yes"))
		p.row("Records", st.TotalRecords)

		types := make([]string, 0, len(st.ByType))
		for typ := range st.ByType {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			fmt.Fprintf(p.w, "    %s %d\n", p.muted.Render(typ), st.ByType[typ])
		}

		if st.LastSyncTime != nil {
			p.row("Last sync", formatTime(*st.LastSyncTime))
		} else {
			p.row("Last sync", "never")
		}
	}

	fmt.Fprintln(p.w)
	p.heading("Index")
	p.row("Path", indexPath)
	if idx == nil {
		p.row("State", p.muted.Render("not generated"))
		return
	}
	p.row("Records", idx.Metadata.TotalRecords)
	p.row("Generated", formatTime(idx.Metadata.GeneratedAt))
}

// Registry prints the record types and statuses the store recognizes
func (p *Printer) Registry(types []record.Type, statuses []record.Status) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	statusNames := make([]string, len(statuses))
	for i, s := range statuses {
		statusNames[i] = string(s)
	}

	p.heading("Registry")
	p.row("Types", joinOrNone(typeNames))
	p.row("Statuses", joinOrNone(statusNames))
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
