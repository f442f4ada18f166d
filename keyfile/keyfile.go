// Package keyfile converts between database subtrees and the nested text
// form used by dump, load and the compiler's override files:
//
//	[org/example]
//	enabled=true
//	name='demo'
//
//	[org/example/window]
//	size=(640, 480)
//
// A group names a directory relative to the root of the dump, without the
// outer slashes; the root itself is the group "/". Each key line holds a
// value literal in the canonical text syntax of package value.
package keyfile

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

var ErrSyntax = errors.New("syntax error")

// Tree is a readable hierarchy of values, such as an index file or a
// database stack.
type Tree interface {
	List(dir string) []string
	Lookup(key string) (value.Value, bool)
}

type Entry struct {
	Key   string
	Value value.Value
}

// ParseError describes a fatal problem on one line of a keyfile.
type ParseError struct {
	Line  int
	Group string
	Key   string
	Msg   string
	Err   error
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "line %d", e.Line)
	if e.Group != "" {
		fmt.Fprintf(&buf, ": [%s]", e.Group)
	}
	if e.Key != "" {
		fmt.Fprintf(&buf, ": %s", e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// Decode parses text and returns its entries rooted at dir, in the order
// their keys first appear. A key repeated within the text keeps the last
// value.
func Decode(text string, dir string) ([]Entry, error) {
	if err := keypath.CheckDir(dir); err != nil {
		return nil, err
	}
	var (
		entries []Entry
		pos     = make(map[string]int)
		group   string
		inGroup bool
	)
	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSuffix(line, "\r")
		line = strings.TrimLeft(line, " \t")
		if line == "" || line[0] == '#' {
			continue
		}

		if line[0] == '[' {
			line = strings.TrimRight(line, " \t")
			if !strings.HasSuffix(line, "]") || len(line) < 3 {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid group header %q", line), Err: ErrSyntax}
			}
			group = line[1 : len(line)-1]
			inGroup = true
			if _, err := groupDir(dir, group); err != nil {
				return nil, &ParseError{Line: lineNo, Group: group, Msg: "invalid group name", Err: err}
			}
			continue
		}

		name, lit, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &ParseError{Line: lineNo, Group: group, Msg: fmt.Sprintf("expected key=value, got %q", line), Err: ErrSyntax}
		}
		name = strings.TrimRight(name, " \t")
		lit = strings.TrimLeft(lit, " \t")
		if !inGroup {
			return nil, &ParseError{Line: lineNo, Key: name, Msg: "key outside of any group", Err: ErrSyntax}
		}
		if name == "" {
			return nil, &ParseError{Line: lineNo, Group: group, Msg: "empty key name", Err: ErrSyntax}
		}

		if err := keypath.CheckRelKey(name); err != nil {
			return nil, &ParseError{Line: lineNo, Group: group, Key: name, Msg: "invalid path", Err: err}
		}
		gdir, _ := groupDir(dir, group)
		key := keypath.Join(gdir, name)
		v, err := value.Parse(lit)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Group: group, Key: name, Msg: fmt.Sprintf("invalid value %q", lit), Err: err}
		}

		if j, found := pos[key]; found {
			entries[j].Value = v
		} else {
			pos[key] = len(entries)
			entries = append(entries, Entry{key, v})
		}
	}
	return entries, nil
}

func groupDir(dir, group string) (string, error) {
	if group == "/" {
		return dir, nil
	}
	rel := group + "/"
	if err := keypath.CheckRelDir(rel); err != nil {
		return "", err
	}
	return keypath.Join(dir, rel), nil
}

// Encode dumps the subtree of tree rooted at dir. Inside every directory,
// keys come before subdirectories and each are sorted bytewise; a group is
// written only if it has at least one key. Encoding is deterministic, so
// decoding the result into a fresh tree and encoding again yields the same
// text.
func Encode(tree Tree, dir string) string {
	var buf strings.Builder
	encodeDir(&buf, tree, dir, keypath.Root)
	return buf.String()
}

func encodeDir(buf *strings.Builder, tree Tree, src, dst string) {
	items := slices.Clone(tree.List(src))
	SortNames(items)

	wroteGroup := false
	for _, item := range items {
		if strings.HasSuffix(item, "/") {
			encodeDir(buf, tree, src+item, dst+item)
			continue
		}
		v, found := tree.Lookup(src + item)
		if !found {
			continue
		}
		if !wroteGroup {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteByte('[')
			buf.WriteString(GroupName(dst))
			buf.WriteString("]\n")
			wroteGroup = true
		}
		buf.WriteString(item)
		buf.WriteByte('=')
		buf.WriteString(v.String())
		buf.WriteByte('\n')
	}
}

// GroupName returns the group header for a directory relative to the dump
// root.
func GroupName(dir string) string {
	if dir == keypath.Root {
		return keypath.Root
	}
	return strings.Trim(dir, "/")
}

// SortNames orders directory listing names with keys before
// subdirectories, each group sorted bytewise.
func SortNames(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		aDir, bDir := strings.HasSuffix(a, "/"), strings.HasSuffix(b, "/")
		if aDir != bDir {
			if aDir {
				return 1
			}
			return -1
		}
		return strings.Compare(a, b)
	})
}
