package confdb

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/andreyvit/confdb/keyfile"
	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

// Stack is an ordered list of sources. Reads return the value from the
// first source that defines a key, except that locked keys skip the
// writable user source.
type Stack struct {
	cfg     Config
	profile *Profile
	sources []*Source
	user    *Source
	logger  *slog.Logger
}

// Open builds the stack described by cfg. Database files are opened lazily
// and may be missing; a missing file reads as empty.
func Open(cfg Config) (*Stack, error) {
	cfg.setDefaults()
	p := cfg.Profile
	if cfg.ProfilePath != "" {
		var err error
		p, err = LoadProfile(cfg.ProfilePath, cfg.Logger)
		if err != nil {
			return nil, err
		}
	} else if p == nil {
		p = DefaultProfile()
	}

	st := &Stack{
		cfg:     cfg,
		profile: p,
		logger:  cfg.Logger,
	}
	for _, spec := range p.Sources {
		var path string
		switch {
		case spec.Kind == KindUser:
			if cfg.UserDir == "" {
				return nil, fmt.Errorf("%w: %s requires a user directory", ErrProfile, spec)
			}
			path = filepath.Join(cfg.UserDir, spec.Name)
		case spec.Path != "":
			path = spec.Path
		default:
			path = filepath.Join(cfg.SystemDBDir, spec.Name)
		}
		src := newSource(spec, path, cfg.Logger.With("source", spec.Name))
		st.sources = append(st.sources, src)
		if spec.Kind == KindUser {
			st.user = src
		}
	}
	return st, nil
}

func (st *Stack) Config() Config {
	return st.cfg
}

func (st *Stack) Profile() *Profile {
	return st.profile
}

func (st *Stack) Sources() []*Source {
	return slices.Clone(st.sources)
}

// User returns the writable source, or nil if the profile has none.
func (st *Stack) User() *Source {
	return st.user
}

func (st *Stack) Close() error {
	var first error
	for _, src := range st.sources {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Read returns the effective value of key.
func (st *Stack) Read(key string) (value.Value, bool, error) {
	if err := keypath.CheckKey(key); err != nil {
		return value.Value{}, false, &PathError{"read", key, err}
	}
	v, found := st.lookup(key)
	return v, found, nil
}

func (st *Stack) lookup(key string) (value.Value, bool) {
	locked := st.isLocked(key)
	for _, src := range st.sources {
		if locked && src.Kind == KindUser {
			continue
		}
		if v, found := src.Lookup(key); found {
			return v, true
		}
	}
	return value.Value{}, false
}

// ReadDefault returns the value key would have if the user source did not
// define it.
func (st *Stack) ReadDefault(key string) (value.Value, bool, error) {
	if err := keypath.CheckKey(key); err != nil {
		return value.Value{}, false, &PathError{"read", key, err}
	}
	for _, src := range st.sources {
		if src.Kind == KindUser {
			continue
		}
		if v, found := src.Lookup(key); found {
			return v, true, nil
		}
	}
	return value.Value{}, false, nil
}

// List returns the union of the names inside dir across all sources, keys
// before subdirectories.
func (st *Stack) List(dir string) ([]string, error) {
	if err := keypath.CheckDir(dir); err != nil {
		return nil, &PathError{"list", dir, err}
	}
	return st.list(dir), nil
}

func (st *Stack) list(dir string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, src := range st.sources {
		for _, name := range src.List(dir) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	keyfile.SortNames(names)
	return names
}

func (st *Stack) isLocked(path string) bool {
	for _, src := range st.sources {
		if src.IsLocked(path) {
			return true
		}
	}
	return false
}

// IsWritable reports whether path can be changed: the stack has a user
// source and no lock covers path.
func (st *Stack) IsWritable(path string) (bool, error) {
	if err := keypath.CheckPath(path); err != nil {
		return false, &PathError{"is-writable", path, err}
	}
	return st.user != nil && !st.isLocked(path), nil
}

// ListLocks returns the lock prefixes under dir from all sources, sorted.
// For a key path, it returns the key itself if exactly that key is locked.
func (st *Stack) ListLocks(path string) ([]string, error) {
	if err := keypath.CheckPath(path); err != nil {
		return nil, &PathError{"list-locks", path, err}
	}
	var locks []string
	for _, src := range st.sources {
		for _, l := range src.Locks(path) {
			if !slices.Contains(locks, l) {
				locks = append(locks, l)
			}
		}
	}
	slices.Sort(locks)
	return locks, nil
}

// Complete returns the full paths of the entries in the directory of prefix
// whose names start with the rest of prefix. Directories come back with
// their trailing slash.
func (st *Stack) Complete(prefix string) []string {
	if prefix == "" {
		return []string{keypath.Root}
	}
	if !strings.HasPrefix(prefix, "/") {
		return nil
	}
	i := strings.LastIndexByte(prefix, '/')
	dir, partial := prefix[:i+1], prefix[i+1:]
	if !keypath.IsDir(dir) {
		return nil
	}
	var result []string
	for _, name := range st.list(dir) {
		if strings.HasPrefix(name, partial) {
			result = append(result, dir+name)
		}
	}
	return result
}

// Refresh reopens every source whose file has changed.
func (st *Stack) Refresh() {
	for _, src := range st.sources {
		src.refresh(false)
	}
}

// Dump returns the keyfile text of the effective subtree under dir.
func (st *Stack) Dump(dir string) (string, error) {
	if err := keypath.CheckDir(dir); err != nil {
		return "", &PathError{"dump", dir, err}
	}
	return keyfile.Encode(stackTree{st}, dir), nil
}

type stackTree struct{ st *Stack }

func (t stackTree) List(dir string) []string {
	return t.st.list(dir)
}

func (t stackTree) Lookup(key string) (value.Value, bool) {
	return t.st.lookup(key)
}
