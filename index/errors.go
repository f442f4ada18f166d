package index

import (
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("invalid index file")

// DataError reports malformed index bytes.
type DataError struct {
	Data []byte
	Off  int
	Msg  string
}

func dataErrf(data []byte, off int, format string, args ...any) error {
	return &DataError{data, off, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return ErrInvalid
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		return fmt.Sprintf("%s at offset %d: (%d) %x", e.Msg, e.Off, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	return fmt.Sprintf("%s at offset %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
}
