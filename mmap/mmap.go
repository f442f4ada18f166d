// Package mmap maps database files into memory read-only.
//
// Mappings are shared, so a process that zeroes part of a file in place is
// seen by every reader that has the file mapped. Index invalidation depends
// on this.
package mmap

import (
	"fmt"
	"os"
)

// Map maps the first size bytes of f. The file may be closed once Map
// returns.
func Map(f *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: cannot map %d bytes", size)
	}
	if size > MaxSize {
		return nil, ErrTooLarge
	}
	return mapFile(f, int(size))
}

// Unmap releases a slice returned by Map.
func Unmap(b []byte) error {
	if b == nil {
		return nil
	}
	return unmap(b)
}
