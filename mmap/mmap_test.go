package mmap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapAndUnmap(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "db")
	ensure(os.WriteFile(fn, []byte("0123456789"), 0o644))
	f := must(os.Open(fn))
	b := must(Map(f, 10))
	ensure(f.Close())

	if string(b) != "0123456789" {
		t.Fatalf("mapping = %q", b)
	}
	ensure(Unmap(b))
	ensure(Unmap(nil))
}

func TestMapRejectsEmpty(t *testing.T) {
	f := must(os.CreateTemp(t.TempDir(), "empty"))
	defer f.Close()
	if _, err := Map(f, 0); err == nil {
		t.Fatalf("Map of 0 bytes succeeded")
	}
}

// A shared mapping observes in-place writes made through another file
// descriptor.
func TestMapSeesInPlaceWrites(t *testing.T) {
	if !Shared {
		t.Skip("files are not mapped on this platform")
	}
	fn := filepath.Join(t.TempDir(), "shared")
	ensure(os.WriteFile(fn, []byte("ABCDEFGH"), 0o644))

	f := must(os.Open(fn))
	b := must(Map(f, 8))
	ensure(f.Close())
	defer Unmap(b)

	w := must(os.OpenFile(fn, os.O_WRONLY, 0))
	must(w.WriteAt([]byte{0, 0, 0, 0}, 0))
	ensure(Fdatasync(w))
	ensure(w.Close())

	if string(b) != "\x00\x00\x00\x00EFGH" {
		t.Fatalf("mapping = %q, wanted zeroed prefix", b)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
