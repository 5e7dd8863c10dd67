// Package watcher reports changes to record files under a record store as
// debounced batches.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/vonshlovens/recordsync/internal/scanner"
)

// Watcher turns fsnotify events under a record store into debounced batches
// of record file changes. Paths in batches are relative to the store root and
// slash separated.
type Watcher struct {
	root    string
	fs      *fsnotify.Watcher
	batches *Debouncer
	ignore  []string
	include []string
	done    chan struct{}
}

// NewWatcher prepares a watcher for root. Nothing is watched until Start.
func NewWatcher(root string, debounceMs int, ignore, include []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		fs:      fsw,
		batches: NewDebouncer(debounceMs),
		ignore:  ignore,
		include: include,
		done:    make(chan struct{}),
	}, nil
}

// Start registers every directory of the store that is not ignored and
// starts forwarding events. It returns once registration is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchTree(w.root); err != nil {
		return err
	}
	go w.loop(ctx)

	slog.Info("watching record store", "path", w.root, "ignore_patterns", len(w.ignore))
	return nil
}

// Events delivers one batch per quiet period
func (w *Watcher) Events() <-chan Batch {
	return w.batches.Events()
}

// Flush emits pending changes without waiting for the quiet period
func (w *Watcher) Flush() {
	w.batches.Flush()
}

// Stop releases the fsnotify handle and closes Events. Changes still waiting
// for their quiet period are dropped.
func (w *Watcher) Stop() error {
	close(w.done)
	if n := w.batches.PendingCount(); n > 0 {
		slog.Info("dropping unflushed changes", "count", n)
	}
	w.batches.Stop()
	return w.fs.Close()
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// watchTree adds dir and its subdirectories, skipping ignored ones
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("cannot walk directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && rel != "." && w.shouldIgnore(rel) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			slog.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Error("filesystem watch failed", "error", err)
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.dispatch(ev)
		}
	}
}

func (w *Watcher) dispatch(ev fsnotify.Event) {
	rel, ok := w.rel(ev.Name)
	if !ok || w.shouldIgnore(rel) {
		return
	}

	if ev.Has(fsnotify.Create) && isDir(ev.Name) {
		if err := w.watchTree(ev.Name); err != nil {
			slog.Warn("cannot watch new directory", "path", ev.Name, "error", err)
		}
		// Files may land in the directory before it is registered
		w.reportExisting(ev.Name)
		return
	}

	if !w.wanted(rel) {
		return
	}
	if typ, ok := changeType(ev); ok {
		w.batches.Add(rel, typ)
	}
}

// changeType maps an fsnotify op to a change. A rename reports the old name
// as gone; the new name arrives as its own create.
func changeType(ev fsnotify.Event) (EventType, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventCreate, true
	case ev.Has(fsnotify.Write):
		return EventModify, !isDir(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return EventDelete, true
	}
	return 0, false
}

func (w *Watcher) reportExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && !w.shouldIgnore(rel) && w.wanted(rel) {
			w.batches.Add(rel, EventCreate)
		}
		return nil
	})
}

func (w *Watcher) wanted(rel string) bool {
	return strings.EqualFold(filepath.Ext(rel), scanner.RecordExt) && w.shouldInclude(rel)
}

// shouldIgnore matches rel and each of its ancestors against the ignore
// patterns, so "drafts" also hides "drafts/x/y.md".
func (w *Watcher) shouldIgnore(rel string) bool {
	for _, pattern := range w.ignore {
		prefix := rel
		for {
			if ok, err := doublestar.Match(pattern, prefix); err == nil && ok {
				return true
			}
			i := strings.LastIndexByte(prefix, '/')
			if i < 0 {
				break
			}
			prefix = prefix[:i]
		}
	}
	return false
}

// shouldInclude reports whether rel matches an include pattern. An empty
// list includes everything.
func (w *Watcher) shouldInclude(rel string) bool {
	if len(w.include) == 0 {
		return true
	}
	for _, pattern := range w.include {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
