package confdb

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestPathError(t *testing.T) {
	err := error(&PathError{"write", "/a/b", ErrLockedKey})
	deepEqual(t, err.Error(), "write /a/b: key is locked")
	if !errors.Is(err, ErrLockedKey) {
		t.Errorf("PathError does not unwrap")
	}

	err = ioErr("commit", "/tmp/db", fs.ErrPermission)
	if !errors.Is(err, ErrIO) || !errors.Is(err, fs.ErrPermission) {
		t.Errorf("ioErr(...) = %v, wanted both ErrIO and the cause", err)
	}

	err = pathErrf("reset", "/a/", ErrConfirmationRequired, "%d keys", 3)
	deepEqual(t, err.Error(), "reset /a/: confirmation required: 3 keys")
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("pathErrf does not wrap")
	}
}

func TestLockedError(t *testing.T) {
	one := &LockedError{[]string{"/a"}}
	deepEqual(t, one.Error(), "key is locked: /a")
	many := &LockedError{[]string{"/a", "/b"}}
	if !strings.Contains(many.Error(), "2 keys") {
		t.Errorf("Error() = %q", many.Error())
	}
	if !errors.Is(many, ErrLockedKey) {
		t.Errorf("LockedError is not ErrLockedKey")
	}
}
