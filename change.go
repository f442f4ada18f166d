package confdb

import (
	"fmt"
	"strings"

	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

type Op int

const (
	OpNone  Op = 0
	OpWrite Op = 1
	OpReset Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpWrite:
		return "write"
	case OpReset:
		return "reset"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// Change is one step of a changeset: a write of a key, or a reset of a key
// or of a whole directory.
type Change struct {
	Op    Op
	Path  string
	Value value.Value
}

func (chg Change) IsDir() bool {
	return strings.HasSuffix(chg.Path, "/")
}

func (chg Change) String() string {
	if chg.Op == OpWrite {
		return chg.Path + "=" + chg.Value.String()
	}
	return chg.Op.String() + " " + chg.Path
}

// Changeset is an ordered batch of changes applied as one transaction.
// Changing the same path twice keeps the position of the first change and
// the effect of the last one.
type Changeset struct {
	changes []Change
	pos     map[string]int
}

func NewChangeset() *Changeset {
	return &Changeset{pos: make(map[string]int)}
}

func (cs *Changeset) add(chg Change) {
	if i, found := cs.pos[chg.Path]; found {
		cs.changes[i] = chg
		return
	}
	cs.pos[chg.Path] = len(cs.changes)
	cs.changes = append(cs.changes, chg)
}

// Set records a write of v to key.
func (cs *Changeset) Set(key string, v value.Value) error {
	if err := keypath.CheckKey(key); err != nil {
		return &PathError{"write", key, err}
	}
	if !v.IsValid() {
		return &PathError{"write", key, fmt.Errorf("%w: no value", ErrInvalidValue)}
	}
	cs.add(Change{OpWrite, key, v})
	return nil
}

// Reset records the removal of a key, or of everything under a directory.
func (cs *Changeset) Reset(path string) error {
	if err := keypath.CheckPath(path); err != nil {
		return &PathError{"reset", path, err}
	}
	cs.add(Change{Op: OpReset, Path: path})
	return nil
}

func (cs *Changeset) Len() int {
	return len(cs.changes)
}

func (cs *Changeset) IsEmpty() bool {
	return len(cs.changes) == 0
}

// Changes returns the changes in the order they were first recorded.
func (cs *Changeset) Changes() []Change {
	return append([]Change(nil), cs.changes...)
}

func (cs *Changeset) Paths() []string {
	paths := make([]string, len(cs.changes))
	for i, chg := range cs.changes {
		paths[i] = chg.Path
	}
	return paths
}

// Describe returns the directory common to all changed paths and each path
// relative to it. A changeset of a single path is described by that path
// and one empty relative path.
func (cs *Changeset) Describe() (prefix string, rel []string) {
	return describePaths(cs.Paths())
}

func describePaths(paths []string) (string, []string) {
	if len(paths) == 0 {
		return "", nil
	}
	prefix := keypath.CommonDir(paths)
	rel := make([]string, len(paths))
	for i, p := range paths {
		rel[i] = p[len(prefix):]
	}
	return prefix, rel
}

func (cs *Changeset) String() string {
	var buf strings.Builder
	for i, chg := range cs.changes {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(chg.String())
	}
	return buf.String()
}
