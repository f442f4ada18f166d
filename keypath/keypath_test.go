package keypath

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		path string
		key  bool
		dir  bool
	}{
		{"/", false, true},
		{"/a", true, false},
		{"/a/", false, true},
		{"/a/b", true, false},
		{"/a/b/", false, true},
		{"", false, false},
		{"a", false, false},
		{"a/", false, false},
		{"//", false, false},
		{"/a//b", false, false},
		{"/a//", false, false},
		{"/a b/c d", true, false},
		{"/app/it's", true, false},
		{"/app/#note", false, false},
		{"/app/a=b", false, false},
		{"/app/[x", false, false},
		{"/app/x]/", false, false},
		{"/app/ lead", false, false},
		{"/app/trail ", false, false},
		{"/app/tab\t/", false, false},
		{"/app/a\nb", false, false},
		{"/app/nul\x00", false, false},
		{"/app/del\x7f", false, false},
	}
	for _, tt := range tests {
		if got := CheckKey(tt.path) == nil; got != tt.key {
			t.Errorf("CheckKey(%q) ok = %v, wanted %v", tt.path, got, tt.key)
		}
		if got := IsDir(tt.path); got != tt.dir {
			t.Errorf("IsDir(%q) = %v, wanted %v", tt.path, got, tt.dir)
		}
		if got := CheckPath(tt.path) == nil; got != (tt.key || tt.dir) {
			t.Errorf("CheckPath(%q) ok = %v, wanted %v", tt.path, got, tt.key || tt.dir)
		}
	}
}

func TestCheckRelative(t *testing.T) {
	if err := CheckRelKey("a/b"); err != nil {
		t.Errorf("CheckRelKey(a/b) = %v", err)
	}
	if err := CheckRelKey("/a"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("CheckRelKey(/a) = %v, wanted ErrInvalidPath", err)
	}
	if err := CheckRelDir(""); err != nil {
		t.Errorf("CheckRelDir(\"\") = %v", err)
	}
	if err := CheckRelDir("a/b/"); err != nil {
		t.Errorf("CheckRelDir(a/b/) = %v", err)
	}
	if err := CheckRelDir("a//"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("CheckRelDir(a//) = %v, wanted ErrInvalidPath", err)
	}
}

func TestParentAndName(t *testing.T) {
	tests := []struct{ path, parent, name string }{
		{"/", "/", ""},
		{"/a", "/", "a"},
		{"/a/", "/", "a/"},
		{"/a/b", "/a/", "b"},
		{"/a/b/c/", "/a/b/", "c/"},
	}
	for _, tt := range tests {
		if got := Parent(tt.path); got != tt.parent {
			t.Errorf("Parent(%q) = %q, wanted %q", tt.path, got, tt.parent)
		}
		if got := Name(tt.path); got != tt.name {
			t.Errorf("Name(%q) = %q, wanted %q", tt.path, got, tt.name)
		}
	}
}

func TestAncestors(t *testing.T) {
	deepEq(t, Ancestors("/a/b/c"), []string{"/", "/a/", "/a/b/"})
	deepEq(t, Ancestors("/a/b/"), []string{"/", "/a/"})
	deepEq(t, Ancestors("/"), []string(nil))
}

func TestCovers(t *testing.T) {
	tests := []struct {
		lock, path string
		want       bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/", "/a/b", true},
		{"/a/", "/a/", true},
		{"/a/", "/ab", false},
		{"/", "/anything", true},
		{"/a/b/c", "/a/b", false},
	}
	for _, tt := range tests {
		if got := covers(tt.lock, tt.path); got != tt.want {
			t.Errorf("covers(%q, %q) = %v, wanted %v", tt.lock, tt.path, got, tt.want)
		}
	}
}

func TestCoveringPrefixesAgreesWithCovers(t *testing.T) {
	locks := []string{"/", "/a", "/a/", "/a/b", "/a/b/", "/a/b/c", "/a/bc", "/x/"}
	for _, path := range []string{"/a/b/c", "/a/b/", "/a/bc", "/x", "/a"} {
		set := make(map[string]bool)
		for _, p := range CoveringPrefixes(path) {
			set[p] = true
		}
		for _, lock := range locks {
			if set[lock] != covers(lock, path) {
				t.Errorf("path %q lock %q: CoveringPrefixes says %v, covers says %v", path, lock, set[lock], covers(lock, path))
			}
		}
	}
}

func TestCommonDir(t *testing.T) {
	tests := []struct {
		paths []string
		want  string
	}{
		{[]string{"/a/b"}, "/a/b"},
		{[]string{"/a/"}, "/a/"},
		{[]string{"/a/ab", "/a/ac"}, "/a/"},
		{[]string{"/app/a", "/app/b", "/x"}, "/"},
		{[]string{"/app/", "/app/x/y"}, "/app/"},
		{nil, "/"},
	}
	for _, tt := range tests {
		if got := CommonDir(tt.paths); got != tt.want {
			t.Errorf("CommonDir(%q) = %q, wanted %q", tt.paths, got, tt.want)
		}
	}
}

func TestOverlaps(t *testing.T) {
	if !Overlaps("/a/", "/a/b") || !Overlaps("/a/b", "/a/") {
		t.Errorf("Overlaps should be symmetric for nested paths")
	}
	if Overlaps("/a/", "/b/c") {
		t.Errorf("Overlaps(/a/, /b/c) = true")
	}
	if Overlaps("/a/b", "/a/bc") || Overlaps("/a/b", "/a/b/c") {
		t.Errorf("a key overlaps a sibling or a path below it")
	}
	if !Overlaps("/a/b", "/a/b") || !Overlaps("/", "/x") {
		t.Errorf("equal or root paths do not overlap")
	}
}

func deepEq[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

// covers is the direct form of the rule CoveringPrefixes enumerates.
func covers(lock, path string) bool {
	if lock == path {
		return true
	}
	if strings.HasSuffix(lock, "/") {
		return strings.HasPrefix(path, lock)
	}
	return strings.HasPrefix(path, lock+"/")
}
