// Package scanner walks a record store and decodes every record file in it.
// A file that fails to decode becomes a Warning; it never fails the scan.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/vonshlovens/recordsync/internal/record"
)

// RecordExt is the extension of record files.
const RecordExt = ".md"

// DefaultIgnorePatterns are skipped unless the caller supplies its own list.
var DefaultIgnorePatterns = []string{
	".git/**",
	".trash/**",
	"**/.DS_Store",
	"**/node_modules/**",
}

// Options controls a scan.
type Options struct {
	// Subdirs restricts traversal to these directories relative to the root.
	Subdirs         []string
	IgnorePatterns  []string
	IncludePatterns []string
	// Workers bounds concurrent file decodes. Zero means GOMAXPROCS.
	Workers      int
	ShowProgress bool
}

// Record is one successfully decoded record file.
type Record struct {
	Entity *record.Entity
	// Path is relative to the scan root, slash separated.
	Path     string
	Checksum string
}

// File returns the base name of the record file.
func (r Record) File() string {
	return filepath.Base(filepath.FromSlash(r.Path))
}

// Warning reports a file that was skipped.
type Warning struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return w.Path + ": " + w.Reason
}

// Result is the full outcome of a scan.
type Result struct {
	Records  []Record
	Warnings []Warning
}

// Entities returns the decoded entities in scan order.
func (r *Result) Entities() []*record.Entity {
	out := make([]*record.Entity, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Entity
	}
	return out
}

type slot struct {
	rec     *Record
	warning *Warning
}

// Scan decodes every record file under root. An unreadable root is an error;
// problems with individual files come back as warnings.
func Scan(ctx context.Context, root string, opts Options) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read record store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("record store %s is not a directory", root)
	}

	if opts.IgnorePatterns == nil {
		opts.IgnorePatterns = DefaultIgnorePatterns
	}

	paths, warnings, err := collect(root, opts)
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("Scanning records"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	slots := make([]slot, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, relPath := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = readRecord(root, relPath)
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	if bar != nil {
		bar.Finish()
	}

	result := &Result{Warnings: warnings}
	seen := make(map[string]string)
	for _, s := range slots {
		if s.warning != nil {
			result.Warnings = append(result.Warnings, *s.warning)
			continue
		}
		if first, dup := seen[s.rec.Entity.ID]; dup {
			result.Warnings = append(result.Warnings, Warning{
				Path:   s.rec.Path,
				Reason: fmt.Sprintf("duplicate id %q (already used by %s)", s.rec.Entity.ID, first),
			})
			continue
		}
		seen[s.rec.Entity.ID] = s.rec.Path
		result.Records = append(result.Records, *s.rec)
	}

	for _, w := range result.Warnings {
		slog.Warn("skipping record file", "path", w.Path, "reason", w.Reason)
	}
	slog.Debug("scan completed",
		"root", root,
		"records", len(result.Records),
		"warnings", len(result.Warnings))

	return result, nil
}

// collect lists candidate record files in lexical path order.
func collect(root string, opts Options) ([]string, []Warning, error) {
	starts := []string{"."}
	if len(opts.Subdirs) > 0 {
		starts = opts.Subdirs
	}

	var (
		paths    []string
		warnings []Warning
	)
	seen := make(map[string]bool)

	for _, start := range starts {
		start = filepath.ToSlash(filepath.Clean(start))
		if start == ".." || strings.HasPrefix(start, "../") || filepath.IsAbs(start) {
			return nil, nil, fmt.Errorf("subdirectory %q is outside the record store", start)
		}

		base := filepath.Join(root, filepath.FromSlash(start))
		if _, err := os.Stat(base); err != nil {
			warnings = append(warnings, Warning{Path: start, Reason: err.Error()})
			continue
		}

		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			relPath, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			relPath = filepath.ToSlash(relPath)

			if err != nil {
				// An unreadable subtree is reported and skipped
				warnings = append(warnings, Warning{Path: relPath, Reason: err.Error()})
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if relPath == "." {
				return nil
			}

			if shouldIgnore(relPath, opts.IgnorePatterns) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			if !strings.EqualFold(filepath.Ext(relPath), RecordExt) {
				return nil
			}
			if !shouldInclude(relPath, opts.IncludePatterns) {
				return nil
			}

			if !seen[relPath] {
				seen[relPath] = true
				paths = append(paths, relPath)
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to walk record store: %w", err)
		}
	}

	sort.Strings(paths)
	return paths, warnings, nil
}

func readRecord(root, relPath string) slot {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return slot{warning: &Warning{Path: relPath, Reason: err.Error()}}
	}

	e, err := record.Decode(data)
	if err != nil {
		return slot{warning: &Warning{Path: relPath, Reason: err.Error()}}
	}

	return slot{rec: &Record{
		Entity:   e,
		Path:     relPath,
		Checksum: record.HashContent(data),
	}}
}

// shouldIgnore checks if a path matches any ignore pattern
func shouldIgnore(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}

// shouldInclude checks include patterns; no patterns means include everything
func shouldInclude(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}

	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}
