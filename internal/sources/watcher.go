package sources

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/logging"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/multierr"
)

// Watcher emits a SourceEvent for every file created under its roots once
// the file has been quiet for the debounce window. Subdirectories are
// followed, including ones created after the watch started.
type Watcher struct {
	fw     *fsnotify.Watcher
	logger logging.Logger
	events chan models.SourceEvent
	fire   chan firing
	done   chan struct{}

	mu       sync.Mutex
	debounce time.Duration
	roots    map[string]struct{}
	dirs     map[string]string // watched dir -> owning root
	pending  map[string]pendingFile
	gen      uint64
}

// pendingFile is a file waiting for its debounce window. gen tells a
// re-armed timer apart from one that already fired.
type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

type firing struct {
	path string
	gen  uint64
}

func NewWatcher(debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Watcher{
		fw:       fw,
		logger:   logger,
		events:   make(chan models.SourceEvent, 64),
		fire:     make(chan firing),
		done:     make(chan struct{}),
		debounce: debounce,
		roots:    map[string]struct{}{},
		dirs:     map[string]string{},
		pending:  map[string]pendingFile{},
	}, nil
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan models.SourceEvent {
	return w.events
}

// SetDebounce changes the settle window for files seen from now on.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Roots returns the current roots in no particular order.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	return out
}

// SetRoots makes roots the watched set. Roots present before and after keep
// their subscriptions untouched. A root that cannot be watched is reported
// in the returned error and left out; the others still apply.
func (w *Watcher) SetRoots(roots []string) error {
	want := map[string]struct{}{}
	for _, r := range roots {
		want[filepath.Clean(r)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs error
	for root := range w.roots {
		if _, keep := want[root]; !keep {
			w.removeRootLocked(root)
		}
	}
	for root := range want {
		if _, have := w.roots[root]; have {
			continue
		}
		if err := w.addTreeLocked(root, root); err != nil {
			w.removeRootLocked(root)
			errs = multierr.Append(errs, fmt.Errorf("watch %s: %w", root, err))
			continue
		}
		w.roots[root] = struct{}{}
	}
	return errs
}

func (w *Watcher) removeRootLocked(root string) {
	for dir, owner := range w.dirs {
		if owner == root {
			_ = w.fw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	for path, p := range w.pending {
		if within(root, path) {
			p.timer.Stop()
			delete(w.pending, path)
		}
	}
	delete(w.roots, root)
}

// addTreeLocked subscribes dir and all directories below it.
func (w *Watcher) addTreeLocked(dir, root string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn(context.Background(), "skipping unreadable directory", "path", path, "error", err)
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.dirs[path]; ok {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			return err
		}
		w.dirs[path] = root
		return nil
	})
}

// Run processes filesystem notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer close(w.done)
	defer func() {
		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.fw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watch error", "error", err)

		case f := <-w.fire:
			if !w.claim(f) {
				continue
			}
			ev, ok := w.settle(ctx, f.path)
			if !ok {
				continue
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Clean(ev.Name)

	switch {
	case ev.Has(fsnotify.Create):
		st, err := os.Stat(path)
		if err != nil {
			return
		}
		if st.IsDir() {
			root, ok := w.dirs[filepath.Dir(path)]
			if !ok {
				return
			}
			if err := w.addTreeLocked(path, root); err != nil {
				w.logger.Warn(ctx, "failed to watch new directory", "path", path, "error", err)
				return
			}
			// files may have landed before the subscription existed
			_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
				if err == nil && d.Type().IsRegular() {
					w.scheduleLocked(p)
				}
				return nil
			})
			return
		}
		w.scheduleLocked(path)

	case ev.Has(fsnotify.Write):
		// only files first seen by a create are tracked
		if _, ok := w.pending[path]; ok {
			w.scheduleLocked(path)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if p, ok := w.pending[path]; ok {
			p.timer.Stop()
			delete(w.pending, path)
		}
		if _, ok := w.dirs[path]; ok {
			for dir := range w.dirs {
				if within(path, dir) {
					_ = w.fw.Remove(dir)
					delete(w.dirs, dir)
				}
			}
		}
	}
}

// scheduleLocked (re)starts the debounce window of path. A timer that has
// already fired cannot be taken back, so every arm gets a fresh generation
// and claim drops the stale one.
func (w *Watcher) scheduleLocked(path string) {
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	w.gen++
	f := firing{path: path, gen: w.gen}
	w.pending[path] = pendingFile{
		gen: f.gen,
		timer: time.AfterFunc(w.debounce, func() {
			select {
			case w.fire <- f:
			case <-w.done:
			}
		}),
	}
}

// claim removes path from the pending set if f is its latest arm.
func (w *Watcher) claim(f firing) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[f.path]
	if !ok || p.gen != f.gen {
		return false
	}
	delete(w.pending, f.path)
	return true
}

// settle turns a quiet path into an event. Empty files and anything that
// is no longer a regular file are dropped.
func (w *Watcher) settle(ctx context.Context, path string) (models.SourceEvent, bool) {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return models.SourceEvent{}, false
	}
	if st.Size() == 0 {
		w.logger.Debug(ctx, "skipping empty file", "path", path)
		return models.SourceEvent{}, false
	}
	return eventFor(path, st.Size()), true
}

func eventFor(path string, size int64) models.SourceEvent {
	mime := "application/octet-stream"
	if m, err := mimetype.DetectFile(path); err == nil {
		mime = m.String()
	}
	return models.SourceEvent{
		SourceRef:   path,
		DisplayName: filepath.Base(path),
		MimeType:    mime,
		SizeHint:    size,
	}
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
