//go:build !unix

package confdb

import (
	"errors"
	"io/fs"
	"os"
)

// lockExclusive uses O_EXCL creation where flock is unavailable. A lock
// file left behind by a crashed writer has to be removed by hand.
func lockExclusive(fn string) (*os.File, error) {
	f, err := os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, ErrWriterBusy
	}
	return f, err
}

func unlock(f *os.File) {
	if f == nil {
		return
	}
	f.Close()
	os.Remove(f.Name())
}
