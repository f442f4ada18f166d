// Package keypath implements the path syntax shared by every layer of the
// database: absolute `/`-separated paths, where a key never ends in `/` and
// a directory always does.
//
// Relative forms (no leading `/`) are used by keyfile groups and by
// changeset descriptions.
package keypath

import (
	"errors"
	"fmt"
	"strings"
)

// Root is the root directory.
const Root = "/"

var ErrInvalidPath = errors.New("invalid path")

type kind uint8

const (
	anyPath kind = iota
	keyPath
	dirPath
)

func invalid(path, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidPath, path, fmt.Sprintf(format, args...))
}

func check(path string, k kind, relative bool) error {
	if relative {
		if path == "" {
			if k == dirPath {
				return nil
			}
			return invalid(path, "empty")
		}
		if path[0] == '/' {
			return invalid(path, "relative path must not begin with a slash")
		}
	} else {
		if path == "" || path[0] != '/' {
			return invalid(path, "must begin with a slash")
		}
	}
	if strings.Contains(path, "//") {
		return invalid(path, "contains two adjacent slashes")
	}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if err := checkName(path, seg); err != nil {
			return err
		}
	}
	last := path[len(path)-1]
	switch k {
	case keyPath:
		if last == '/' {
			return invalid(path, "key must not end with a slash")
		}
	case dirPath:
		if last != '/' {
			return invalid(path, "dir must end with a slash")
		}
	}
	return nil
}

// checkName rejects the segments that keyfile text cannot carry: control
// characters, the keyfile delimiters "=", "#", "[" and "]", and blanks at
// either end.
func checkName(path, seg string) error {
	if seg == "" {
		return nil
	}
	if isBlank(seg[0]) || isBlank(seg[len(seg)-1]) {
		return invalid(path, "segment %q begins or ends with a blank", seg)
	}
	for i := 0; i < len(seg); i++ {
		switch c := seg[i]; {
		case c < 0x20 || c == 0x7f:
			return invalid(path, "contains control character 0x%02x", c)
		case c == '=' || c == '#' || c == '[' || c == ']':
			return invalid(path, "contains %q", c)
		}
	}
	return nil
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t'
}

// CheckPath validates an absolute key or directory path.
func CheckPath(path string) error { return check(path, anyPath, false) }

// CheckKey validates an absolute key path.
func CheckKey(path string) error { return check(path, keyPath, false) }

// CheckDir validates an absolute directory path.
func CheckDir(path string) error { return check(path, dirPath, false) }

// CheckRelKey validates a key path relative to some directory.
func CheckRelKey(path string) error { return check(path, keyPath, true) }

// CheckRelDir validates a directory path relative to some directory. The
// empty string is a valid relative dir (the directory itself).
func CheckRelDir(path string) error { return check(path, dirPath, true) }

func IsDir(path string) bool { return CheckDir(path) == nil }

// Parent returns the directory that directly contains path. The parent of
// the root is the root.
func Parent(path string) string {
	if path == Root {
		return Root
	}
	trimmed := strings.TrimSuffix(path, "/")
	i := strings.LastIndexByte(trimmed, '/')
	return trimmed[:i+1]
}

// Name returns the last segment of path, keeping the trailing slash of
// a directory ("/a/b/" -> "b/", "/a/c" -> "c").
func Name(path string) string {
	if path == Root {
		return ""
	}
	return path[len(Parent(path)):]
}

// Ancestors returns every directory that contains path, starting from the
// root. A directory is not its own ancestor.
func Ancestors(path string) []string {
	var result []string
	for i := 0; i < len(path)-1; i++ {
		if path[i] == '/' {
			result = append(result, path[:i+1])
		}
	}
	return result
}

// CoveringPrefixes returns every lock string that covers path, so that a
// lock set can be checked with point lookups. A directory lock covers
// everything under it. A lock without the trailing slash covers the key of
// that name and, if it is used as a directory, everything under it.
// Prefixes are compared segment-wise, so "/a/b" does not cover "/a/bc".
func CoveringPrefixes(path string) []string {
	result := []string{path}
	for _, dir := range Ancestors(path) {
		result = append(result, dir)
		if dir != Root {
			result = append(result, dir[:len(dir)-1])
		}
	}
	if strings.HasSuffix(path, "/") && path != Root {
		result = append(result, path[:len(path)-1])
	}
	return result
}

// Overlaps reports whether a and b are equal or one is a directory that
// contains the other. A key never contains anything, so "/a/b" and
// "/a/bc" do not overlap.
func Overlaps(a, b string) bool {
	switch {
	case a == b:
		return true
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, a):
		return true
	case strings.HasSuffix(b, "/") && strings.HasPrefix(a, b):
		return true
	}
	return false
}

// Join appends a relative path to a directory.
func Join(dir, rel string) string {
	if !strings.HasSuffix(dir, "/") {
		panic(fmt.Errorf("keypath.Join: %q is not a directory", dir))
	}
	return dir + rel
}

// CommonDir returns the longest directory that contains all of paths. If
// there is only one path, it is returned unchanged.
func CommonDir(paths []string) string {
	if len(paths) == 0 {
		return Root
	}
	prefix := paths[0]
	for _, p := range paths[1:] {
		n := min(len(prefix), len(p))
		i := 0
		for i < n && prefix[i] == p[i] {
			i++
		}
		prefix = prefix[:i]
	}
	if len(paths) > 1 {
		prefix = prefix[:strings.LastIndexByte(prefix, '/')+1]
	}
	return prefix
}
