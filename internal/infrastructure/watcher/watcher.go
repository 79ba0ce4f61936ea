// Package watcher turns file-system notifications under the watch roots into
// debounced batches of classified change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
	"github.com/felixgeelhaar/libertydev/internal/pathutil"
)

// DefaultDebounce is the quiet period after the last change before a batch is emitted.
const DefaultDebounce = 500 * time.Millisecond

// DefaultIgnore lists editor artefacts that never trigger a build.
var DefaultIgnore = []string{"**/*.swp", "**/*.swx", "**/*~", "**/.#*", "**/4913", "**/.DS_Store"}

// Watcher monitors the watch roots for changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	log      zerolog.Logger

	mu      sync.Mutex
	roots   []domain.WatchRoot
	watched map[string]bool
	closed  bool
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore adds doublestar patterns, matched against the path relative to its
// watch root, for files that never trigger a build.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

// New creates a new file watcher.
func New(opts ...Option) (*Watcher, error) {
	w := &Watcher{
		debounce: DefaultDebounce,
		ignore:   append([]string(nil), DefaultIgnore...),
		log:      zerolog.Nop(),
		watched:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, pat := range w.ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pat)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw
	return w, nil
}

// WatchRoots registers the roots and starts watching them. Directory roots are
// watched recursively. Roots that do not exist yet are picked up when created.
func (w *Watcher) WatchRoots(roots []domain.WatchRoot) error {
	if err := domain.ValidateRoots(roots); err != nil {
		return err
	}
	w.mu.Lock()
	w.roots = append(w.roots, roots...)
	w.mu.Unlock()

	for _, root := range roots {
		if err := w.watchRoot(root); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) watchRoot(root domain.WatchRoot) error {
	path := filepath.Clean(root.Path)
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir() && !root.File:
		return w.addTree(path)
	case err == nil:
		return w.add(filepath.Dir(path))
	case errors.Is(err, fs.ErrNotExist):
		return w.addNearestAncestor(path)
	default:
		return fmt.Errorf("watch root %s: %w", path, err)
	}
}

// addNearestAncestor watches the closest existing parent of a missing path so
// that its creation is noticed.
func (w *Watcher) addNearestAncestor(path string) error {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return w.add(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.add(path)
	})
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) snapshotRoots() []domain.WatchRoot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.WatchRoot(nil), w.roots...)
}

// Events returns a channel of change batches. Every change inside the debounce
// window is collapsed into one event per path, so saving a file twice in quick
// succession yields a single change.
func (w *Watcher) Events(ctx context.Context) <-chan []domain.ChangeEvent {
	out := make(chan []domain.ChangeEvent)

	go func() {
		defer close(out)

		pending := make(map[string]domain.ChangeKind)
		var timer *time.Timer
		var timerCh <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !w.collect(event, pending) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C

			case <-timerCh:
				timerCh = nil
				batch := w.batch(pending)
				pending = make(map[string]domain.ChangeKind)
				if len(batch) == 0 {
					continue
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}

			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("file watcher error")
			}
		}
	}()

	return out
}

// collect records a notification in pending and reports whether it counts as
// a change.
func (w *Watcher) collect(event fsnotify.Event, pending map[string]domain.ChangeKind) bool {
	path := filepath.Clean(event.Name)
	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.directoryCreated(path, pending)
			return true
		}
		pending[path] = merge(pending[path], domain.ChangeCreate)
	case event.Op.Has(fsnotify.Write):
		pending[path] = merge(pending[path], domain.ChangeModify)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		pending[path] = domain.ChangeDelete
		w.mu.Lock()
		delete(w.watched, path)
		w.mu.Unlock()
	case event.Op.Has(fsnotify.Chmod):
		// A touch only updates the timestamps and arrives as an attribute change.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
		pending[path] = merge(pending[path], domain.ChangeModify)
	default:
		return false
	}
	return true
}

// merge keeps a create as a create when the file is written again inside the
// same window.
func merge(prev, next domain.ChangeKind) domain.ChangeKind {
	if prev == domain.ChangeCreate && next == domain.ChangeModify {
		return domain.ChangeCreate
	}
	return next
}

// directoryCreated starts watching a new directory and reports the files that
// were written into it before the watch was in place.
func (w *Watcher) directoryCreated(dir string, pending map[string]domain.ChangeKind) {
	if !w.relevantDir(dir) {
		return
	}
	if err := w.addTree(dir); err != nil {
		w.log.Warn().Err(err).Str("dir", dir).Msg("could not watch new directory")
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		pending[filepath.Clean(path)] = domain.ChangeCreate
		return nil
	})
}

// relevantDir reports whether dir lies inside a directory root or on the way
// to one that does not exist yet.
func (w *Watcher) relevantDir(dir string) bool {
	for _, root := range w.snapshotRoots() {
		if root.File {
			continue
		}
		rp := filepath.Clean(root.Path)
		if pathutil.Within(dir, rp) || pathutil.Within(rp, dir) {
			return true
		}
	}
	return false
}

func (w *Watcher) batch(pending map[string]domain.ChangeKind) []domain.ChangeEvent {
	roots := w.snapshotRoots()
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []domain.ChangeEvent
	for _, p := range paths {
		ev := domain.NewChangeEvent(p, pending[p], roots)
		if ev.Role == domain.RoleOther || w.ignored(ev.RelativePath) {
			continue
		}
		out = append(out, ev)
	}
	if len(out) > 0 {
		w.log.Debug().Int("changes", len(out)).Msg("change batch ready")
	}
	return out
}

func (w *Watcher) ignored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignore {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
		if !strings.Contains(pat, "/") {
			if matched, err := doublestar.Match(pat, filepath.Base(normalized)); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.fsw.Close()
}
