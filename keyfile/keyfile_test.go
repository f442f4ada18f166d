package keyfile_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/andreyvit/confdb/index"
	"github.com/andreyvit/confdb/keyfile"
	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

func tree(t testing.TB, entries []keyfile.Entry) *index.File {
	t.Helper()
	b := index.NewBuilder()
	for _, e := range entries {
		if err := b.Set(e.Key, e.Value); err != nil {
			t.Fatal(err)
		}
	}
	f, err := index.Load(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func literals(entries []keyfile.Entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value.String()
	}
	return m
}

func TestDecode(t *testing.T) {
	text := `# leading comment
[/]
top=1

[org/example]
  enabled = true
name='demo'
name='again'
size=(640, 480)

[org/example/sub]
list=[1, 2, 3]
`
	entries, err := keyfile.Decode(text, "/")
	if err != nil {
		t.Fatal(err)
	}
	got := literals(entries)
	want := map[string]string{
		"/top":                  "1",
		"/org/example/enabled":  "true",
		"/org/example/name":     "'again'",
		"/org/example/size":     "(640, 480)",
		"/org/example/sub/list": "[1, 2, 3]",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}

	var order []string
	for _, e := range entries {
		order = append(order, e.Key)
	}
	if diff := cmp.Diff([]string{"/top", "/org/example/enabled", "/org/example/name", "/org/example/size", "/org/example/sub/list"}, order); diff != "" {
		t.Errorf("Decode order (-want +got):\n%s", diff)
	}
}

func TestDecodeUnderDir(t *testing.T) {
	entries, err := keyfile.Decode("[/]\na=1\n[x]\nb=2\n", "/base/")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"/base/a": "1", "/base/x/b": "2"}, literals(entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
		err  error
	}{
		{"key outside group", "a=1\n", 1, keyfile.ErrSyntax},
		{"no equals", "[g]\njunk\n", 2, keyfile.ErrSyntax},
		{"unterminated group", "[g\n", 1, keyfile.ErrSyntax},
		{"bad group", "[/g/]\n", 1, keypath.ErrInvalidPath},
		{"bad key", "[g]\na//b=1\n", 2, keypath.ErrInvalidPath},
		{"bracket in key", "[g]\na]b=1\n", 2, keypath.ErrInvalidPath},
		{"control char in key", "[g]\na\x01b=1\n", 2, keypath.ErrInvalidPath},
		{"blank-edged group", "[ g]\nk=1\n", 1, keypath.ErrInvalidPath},
		{"hash in group", "[g#1]\nk=1\n", 1, keypath.ErrInvalidPath},
		{"bad value", "[g]\n\nk=[1, 'x']\n", 3, value.ErrInvalidValue},
		{"empty key", "[g]\n=1\n", 2, keyfile.ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := keyfile.Decode(tt.text, "/")
			var pe *keyfile.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Decode err = %v, wanted *ParseError", err)
			}
			if pe.Line != tt.line {
				t.Errorf("Line = %d, wanted %d (%v)", pe.Line, tt.line, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, wanted %v", err, tt.err)
			}
		})
	}
}

func TestEncodeOrdering(t *testing.T) {
	f := tree(t, []keyfile.Entry{
		{"/b/z", value.NewInt(1)},
		{"/b/a", value.NewInt(2)},
		{"/b/sub/k", value.NewString("x")},
		{"/a/k", value.NewBool(true)},
		{"/root", value.NewDouble(1)},
		{"/empty/deeper/k", value.NewInt(3)},
	})
	got := keyfile.Encode(f, "/")
	want := `[/]
root=1.0

[a]
k=true

[b]
a=2
z=1

[b/sub]
k='x'

[empty/deeper]
k=3
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Encode mismatch (-want +got):\n%s", diff)
	}

	sub := keyfile.Encode(f, "/b/")
	wantSub := "[/]\na=2\nz=1\n\n[sub]\nk='x'\n"
	if diff := cmp.Diff(wantSub, sub); diff != "" {
		t.Errorf("Encode(/b/) mismatch (-want +got):\n%s", diff)
	}

	if s := keyfile.Encode(f, "/missing/"); s != "" {
		t.Errorf("Encode(/missing/) = %q, wanted empty", s)
	}
}

func TestRoundTripIsIdempotent(t *testing.T) {
	f := tree(t, []keyfile.Entry{
		{"/org/app/title", value.NewString("it's \"quoted\"\n")},
		{"/org/app/ratio", value.NewDouble(0.25)},
		{"/org/app/pairs", value.MustParse("[(1, 'a'), (2, 'b')]")},
		{"/org/app/nested/flag", value.NewBool(false)},
		{"/other", value.MustParse("[]")},
	})
	first := keyfile.Encode(f, "/")

	entries, err := keyfile.Decode(first, "/")
	if err != nil {
		t.Fatalf("Decode(%q): %v", first, err)
	}
	second := keyfile.Encode(tree(t, entries), "/")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("dump/load/dump is not idempotent (-first +second):\n%s", diff)
	}

	for _, e := range entries {
		orig, _ := f.Lookup(e.Key)
		if !value.Equal(orig, e.Value) {
			t.Errorf("%s = %v, wanted %v", e.Key, e.Value, orig)
		}
	}
}

func TestRoundTripUnusualNames(t *testing.T) {
	f := tree(t, []keyfile.Entry{
		{"/a b/c d", value.NewInt(1)},
		{"/a b/it's", value.NewInt(2)},
		{"/a b/q\"x", value.NewInt(3)},
		{"/sym/;:,.!?@$%^&*()-+{}|<>~`", value.NewInt(4)},
		{"/\u00fcml/\u00e4ut", value.NewInt(5)},
	})
	text := keyfile.Encode(f, "/")
	entries, err := keyfile.Decode(text, "/")
	if err != nil {
		t.Fatalf("Decode(%q): %v", text, err)
	}
	got := literals(entries)
	want := map[string]string{
		"/a b/c d":                     "1",
		"/a b/it's":                    "2",
		"/a b/q\"x":                    "3",
		"/sym/;:,.!?@$%^&*()-+{}|<>~`": "4",
		"/\u00fcml/\u00e4ut":           "5",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSortNames(t *testing.T) {
	names := []string{"b/", "z", "a/", "B", "a"}
	keyfile.SortNames(names)
	if diff := cmp.Diff([]string{"B", "a", "z", "a/", "b/"}, names); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
