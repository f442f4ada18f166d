//go:build !unix

package mmap

import (
	"io"
	"os"
)

// Shared is false where files are read into private memory instead of
// being mapped. Readers then only notice a replaced file by reopening it.
const Shared = false

func mapFile(f *os.File, size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, err
	}
	return b, nil
}

func unmap(b []byte) error {
	return nil
}
