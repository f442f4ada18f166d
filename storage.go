package confdb

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/andreyvit/confdb/index"
	"github.com/andreyvit/confdb/value"
)

// Source is one layer of a stack, backed by an index file. Queries go
// through the current mapping of the file; once another process replaces
// the file, the old mapping reads as invalid and the next query reopens
// the path.
type Source struct {
	Name string
	Kind SourceKind
	Path string

	logger *slog.Logger

	mu      sync.RWMutex
	file    *index.File
	missing bool
	stale   bool // file is retained past invalidation
}

const maxReopenDelay = 8 * time.Millisecond

func newSource(spec SourceSpec, path string, logger *slog.Logger) *Source {
	return &Source{
		Name:   spec.Name,
		Kind:   spec.Kind,
		Path:   path,
		logger: logger,
	}
}

func (s *Source) Writable() bool {
	return s.Kind == KindUser
}

// view runs fn against the current snapshot, which is nil if the file does
// not exist or cannot be opened.
func (s *Source) view(fn func(f *index.File)) {
	s.refresh(false)
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.file)
}

// refresh reopens the file if the current mapping has been invalidated or
// the file was missing. With force, the file is reopened unconditionally.
//
// A writer zeroes the header a moment before renaming the new file into
// place. If the path still has a zeroed header after a few retries, the
// previous mapping is retained and keeps serving its tables until the
// rename lands.
func (s *Source) refresh(force bool) {
	if !force {
		s.mu.RLock()
		ok := s.file != nil && s.file.IsValid()
		s.mu.RUnlock()
		if ok {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && s.file != nil && s.file.IsValid() {
		return
	}

	f, err := s.open()
	switch {
	case err == nil:
		s.drop()
		s.file, s.missing = f, false
	case errors.Is(err, fs.ErrNotExist):
		if !s.missing {
			s.logger.Debug("confdb: database file does not exist", "source", s.Name, "path", s.Path)
		}
		s.drop()
		s.missing = true
	case errors.Is(err, index.ErrInvalid) && s.file != nil:
		if !s.stale {
			s.logger.Debug("confdb: database is being replaced, serving previous snapshot", "source", s.Name, "path", s.Path)
		}
		s.file.Retain()
		s.stale = true
	default:
		s.logger.Warn("confdb: cannot open database", "source", s.Name, "path", s.Path, "err", err)
		s.drop()
	}
}

// open opens the path, retrying briefly while its header is zeroed. Once a
// retained snapshot is being served, a single attempt is made per query.
func (s *Source) open() (*index.File, error) {
	f, err := index.Open(s.Path)
	if s.stale {
		return f, err
	}
	for delay := time.Millisecond; errors.Is(err, index.ErrInvalid) && delay <= maxReopenDelay; delay *= 2 {
		time.Sleep(delay)
		f, err = index.Open(s.Path)
	}
	return f, err
}

func (s *Source) drop() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.stale = false
}

// Reload drops the current mapping and opens the file again.
func (s *Source) Reload() {
	s.refresh(true)
}

func (s *Source) Lookup(key string) (v value.Value, found bool) {
	s.view(func(f *index.File) { v, found = f.Lookup(key) })
	return
}

func (s *Source) List(dir string) (names []string) {
	s.view(func(f *index.File) { names = f.List(dir) })
	return
}

func (s *Source) IsLocked(path string) (locked bool) {
	s.view(func(f *index.File) { locked = f.IsLocked(path) })
	return
}

func (s *Source) Locks(path string) (locks []string) {
	s.view(func(f *index.File) { locks = f.Locks(path) })
	return
}

func (s *Source) Entries() (entries []index.Entry) {
	s.view(func(f *index.File) { entries = f.Entries() })
	return
}

// Exists reports whether the source currently has a valid file.
func (s *Source) Exists() (exists bool) {
	s.view(func(f *index.File) { exists = f != nil })
	return
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
