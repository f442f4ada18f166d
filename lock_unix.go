//go:build unix

package confdb

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive creates fn if needed and takes a non-blocking exclusive
// flock on it. The lock lives as long as the returned file stays open, and
// the kernel drops it if the process dies.
func lockExclusive(fn string) (*os.File, error) {
	f, err := os.OpenFile(fn, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		f.Close()
		return nil, ErrWriterBusy
	} else if err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func unlock(f *os.File) {
	if f == nil {
		return
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}
