package confdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/confdb/compiler"
	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

var (
	ErrInvalidPath  = keypath.ErrInvalidPath
	ErrInvalidValue = value.ErrInvalidValue
	ErrCompileParse = compiler.ErrParse

	ErrLockedKey            = errors.New("key is locked")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrNotWritable          = errors.New("database is not writable")
	ErrIO                   = errors.New("storage unavailable")
	ErrWriterBusy           = errors.New("another writer owns the database")
	ErrSubscriptionDropped  = errors.New("subscription dropped")
	ErrProfile              = errors.New("invalid profile")
	ErrClosed               = errors.New("closed")
)

// PathError records the operation and path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func pathErrf(op, path string, err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
	}
	return &PathError{op, path, err}
}

func ioErr(op, path string, err error) error {
	return &PathError{op, path, fmt.Errorf("%w: %w", ErrIO, err)}
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func (e *PathError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	if e.Path != "" {
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// LockedError lists every locked key that caused a batch to be rejected.
type LockedError struct {
	Keys []string
}

func (e *LockedError) Error() string {
	if len(e.Keys) == 1 {
		return fmt.Sprintf("%v: %s", ErrLockedKey, e.Keys[0])
	}
	return fmt.Sprintf("%v: %d keys (%s)", ErrLockedKey, len(e.Keys), strings.Join(e.Keys, ", "))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLockedKey
}
