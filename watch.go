package confdb

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/andreyvit/confdb/index"
	"github.com/andreyvit/confdb/value"
)

// FileWatcher notices when database files of a stack are replaced by
// another process, reopens the affected sources, and publishes an event
// describing the keys that differ between the old and new contents.
type FileWatcher struct {
	st     *Stack
	hub    *Hub
	logger *slog.Logger
	w      *fsnotify.Watcher

	mu     sync.Mutex
	byPath map[string]*Source
	snaps  map[*Source]map[string]value.Value
}

func NewFileWatcher(st *Stack, hub *Hub) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FileWatcher{
		st:     st,
		hub:    hub,
		logger: st.logger,
		w:      w,
		byPath: make(map[string]*Source),
		snaps:  make(map[*Source]map[string]value.Value),
	}

	dirs := make(map[string]bool)
	for _, src := range st.sources {
		path := filepath.Clean(src.Path)
		fw.byPath[path] = src
		snap, err := loadSnapshot(path)
		if err != nil {
			fw.logger.Debug("confdb: database file not readable yet", "path", path, "err", err)
			snap = make(map[string]value.Value)
		}
		fw.snaps[src] = snap

		// renames replace the file, so watch the directory
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.Add(dir); err != nil {
			fw.logger.Warn("confdb: cannot watch database directory", "dir", dir, "err", err)
		}
	}
	return fw, nil
}

// loadSnapshot reads every entry of the file at path. A missing file is an
// empty snapshot. A file whose header has been zeroed returns
// index.ErrInvalid: it is about to be replaced.
func loadSnapshot(path string) (map[string]value.Value, error) {
	snap := make(map[string]value.Value)
	f, err := index.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	for _, e := range f.Entries() {
		snap[e.Key] = e.Value
	}
	if !f.IsValid() {
		return nil, index.ErrInvalid
	}
	return snap, nil
}

// Run processes file system events until ctx is done or the watcher is
// closed.
func (fw *FileWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			fw.mu.Lock()
			src := fw.byPath[filepath.Clean(ev.Name)]
			fw.mu.Unlock()
			if src != nil {
				fw.Check(src)
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn("confdb: file watcher error", "err", err)
		}
	}
}

// Check compares the file of src with the last seen contents and publishes
// the difference, if any. It returns the changed keys.
func (fw *FileWatcher) Check(src *Source) []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	next, err := loadSnapshot(src.Path)
	if errors.Is(err, index.ErrInvalid) {
		// zeroed but not renamed over yet, the rename sends its own event
		return nil
	} else if err != nil {
		fw.logger.Warn("confdb: cannot read changed database", "source", src.Name, "path", src.Path, "err", err)
		return nil
	}
	prev := fw.snaps[src]
	fw.snaps[src] = next

	var changed []string
	for key, v := range next {
		if old, found := prev[key]; !found || !value.Equal(old, v) {
			changed = append(changed, key)
		}
	}
	for key := range prev {
		if _, found := next[key]; !found {
			changed = append(changed, key)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	slices.Sort(changed)
	src.Reload()

	ev := Event{Source: src.Name}
	ev.Prefix, ev.Paths = describePaths(changed)
	if len(changed) == 1 {
		ev.Value = next[changed[0]]
	}
	seq := fw.hub.Publish(ev)
	fw.logger.Debug("confdb: database file changed", "source", src.Name, "seq", seq, "keys", len(changed))
	return changed
}

func (fw *FileWatcher) Close() error {
	err := fw.w.Close()
	if errors.Is(err, fs.ErrClosed) {
		return nil
	}
	return err
}
