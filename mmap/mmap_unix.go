//go:build unix

package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const Shared = true

func mapFile(f *os.File, size int) ([]byte, error) {
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// lookups jump between bucket, hash and item arrays
	err = unix.Madvise(b, unix.MADV_RANDOM)
	if err != nil && err != unix.ENOSYS {
		unix.Munmap(b)
		return nil, fmt.Errorf("madvise(MADV_RANDOM): %w", err)
	}
	return b, nil
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}
