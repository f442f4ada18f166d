package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio"

	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/mmap"
	"github.com/andreyvit/confdb/value"
)

// File is an opened index snapshot, either memory-mapped from disk (Open)
// or backed by a byte slice (Load).
//
// A mapped File keeps observing the bytes of the file it was opened from,
// even after that file has been replaced. Call IsValid before trusting a
// long-lived File: it reports false once a writer has invalidated it.
type File struct {
	path     string
	data     []byte
	mapped   bool
	retained bool
	main     Table
	locks    Table
}

type Entry struct {
	Key   string
	Value value.Value
}

// Load parses an index held in memory. data is used directly, not copied.
func Load(data []byte) (*File, error) {
	f := &File{data: data}
	if err := f.parse(); err != nil {
		return nil, err
	}
	return f, nil
}

// Open maps the index file at path read-only. A missing file yields an
// error satisfying errors.Is(err, fs.ErrNotExist).
func Open(path string) (*File, error) {
	osf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer osf.Close()

	st, err := osf.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < HeaderSize {
		return nil, fmt.Errorf("%s: %w: file of %d bytes is too small", path, ErrInvalid, size)
	}
	data, err := mmap.Map(osf, size)
	if err != nil {
		return nil, fmt.Errorf("%s: mmap: %w", path, err)
	}
	f := &File{path: path, data: data, mapped: true}
	if err := f.parse(); err != nil {
		mmap.Unmap(data)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) parse() error {
	h, ok := readHeader(f.data)
	if !ok {
		return dataErrf(f.data, 0, "bad header magic")
	}
	if h.Version != version1 {
		return dataErrf(f.data, 8, "unsupported version %d", h.Version)
	}
	var err error
	f.main, err = openTable(f.data, h.MainOff, h.MainLen)
	if err != nil {
		return err
	}
	if h.LocksLen != 0 {
		f.locks, err = openTable(f.data, h.LocksOff, h.LocksLen)
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *File) Path() string {
	return f.path
}

// IsValid reports whether the header is still intact. It reads a few bytes
// of the mapping and makes no system calls.
func (f *File) IsValid() bool {
	if f == nil {
		return false
	}
	_, ok := readHeader(f.data)
	return ok
}

// Bytes returns the raw file contents.
func (f *File) Bytes() []byte {
	return f.data
}

func (f *File) Close() error {
	if f == nil || !f.mapped || f.data == nil {
		return nil
	}
	err := mmap.Unmap(f.data)
	f.data = nil
	f.main, f.locks = Table{}, Table{}
	return err
}

// Lookup returns the value stored at key.
func (f *File) Lookup(key string) (value.Value, bool) {
	if !f.live() {
		return value.Value{}, false
	}
	it, _, found := f.main.find(key)
	if !found || it.kind != kindValue {
		return value.Value{}, false
	}
	data, ok := f.main.itemData(it)
	if !ok {
		return value.Value{}, false
	}
	v, err := value.Decode(data)
	if err != nil {
		return value.Value{}, false
	}
	return v, true
}

// List returns the names directly inside dir: keys as bare names,
// subdirectories with a trailing slash. A missing directory has no
// children.
func (f *File) List(dir string) []string {
	if !f.live() || !keypath.IsDir(dir) {
		return nil
	}
	it, _, found := f.main.find(dir)
	if !found {
		return nil
	}
	var names []string
	for _, i := range f.main.children(it) {
		if name := f.main.key(f.main.item(i)); len(name) > 0 {
			names = append(names, string(name))
		}
	}
	return names
}

// HasLocks reports whether the file carries a lock table.
func (f *File) HasLocks() bool {
	return f.live() && f.locks.data != nil && f.locks.nItems > 0
}

// Retain makes an invalidated File keep answering queries from the tables
// parsed when it was opened. IsValid still reports false. Retain must not
// race with queries on f.
func (f *File) Retain() {
	if f != nil {
		f.retained = true
	}
}

// live reports whether the file can serve queries. An invalidated snapshot
// answers every query as if it were empty unless it was retained.
func (f *File) live() bool {
	return f != nil && f.main.data != nil && (f.retained || f.IsValid())
}

// IsLocked reports whether any lock prefix in the file covers path.
func (f *File) IsLocked(path string) bool {
	if !f.HasLocks() {
		return false
	}
	for _, p := range keypath.CoveringPrefixes(path) {
		if it, _, found := f.locks.find(p); found && it.kind == kindLock {
			return true
		}
	}
	return false
}

// Locks returns the lock prefixes under dir, or for a key path, the key
// itself if it is locked by exactly that prefix.
func (f *File) Locks(path string) []string {
	if !f.HasLocks() {
		return nil
	}
	if !strings.HasSuffix(path, "/") {
		if it, _, found := f.locks.find(path); found && it.kind == kindLock {
			return []string{path}
		}
		return nil
	}
	var result []string
	for i := uint32(0); i < f.locks.nItems; i++ {
		it := f.locks.item(i)
		if it.kind != kindLock {
			continue
		}
		if name := string(f.locks.key(it)); strings.HasPrefix(name, path) {
			result = append(result, name)
		}
	}
	slices.Sort(result)
	return result
}

// Entries returns every stored key and value, sorted by key.
func (f *File) Entries() []Entry {
	if !f.live() {
		return nil
	}
	var result []Entry
	for i := uint32(0); i < f.main.nItems; i++ {
		it := f.main.item(i)
		if it.kind != kindValue {
			continue
		}
		data, ok := f.main.itemData(it)
		if !ok {
			continue
		}
		v, err := value.Decode(data)
		if err != nil {
			continue
		}
		result = append(result, Entry{f.main.fullPath(it), v})
	}
	slices.SortFunc(result, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return result
}

// Builder returns a builder preloaded with the contents of f, so that a
// modified copy can be produced.
func (f *File) Builder() *Builder {
	b := NewBuilder()
	for _, e := range f.Entries() {
		b.values[e.Key] = e.Value
	}
	for _, l := range f.Locks(keypath.Root) {
		b.locks[l] = struct{}{}
	}
	return b
}

// Invalidate zeroes the header of the file at path in place, so that every
// process that has it mapped sees it as stale. A missing file is not an
// error.
func Invalidate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	var zero [HeaderSize]byte
	_, err = f.WriteAt(zero[:], 0)
	if err == nil {
		err = mmap.Fdatasync(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Replace installs data at path: it writes a temporary file in the same
// directory, invalidates the current file and renames the temporary file
// over path.
func Replace(path string, data []byte, perm fs.FileMode) error {
	pf, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return err
	}
	if err := pf.Chmod(perm); err != nil {
		return err
	}
	if err := Invalidate(path); err != nil {
		return fmt.Errorf("invalidating %s: %w", path, err)
	}
	return pf.CloseAtomicallyReplace()
}

// ReplaceIfChanged is like Replace, but leaves the file untouched when its
// current contents already equal data. It reports whether the file was
// replaced.
func ReplaceIfChanged(path string, data []byte, perm fs.FileMode) (bool, error) {
	current, err := os.ReadFile(path)
	if err == nil && string(current) == string(data) {
		return false, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := Replace(path, data, perm); err != nil {
		return false, err
	}
	return true, nil
}
