package mmap

import "os"

// Fdatasync flushes the data written to f, skipping metadata such as the
// modification time where the system allows it.
//
// An error leaves the on-disk contents unknown. Callers must not retry and
// assume success.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
