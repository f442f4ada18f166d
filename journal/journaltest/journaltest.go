package journaltest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/confdb/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestJournal is a journal in a temporary directory with a manual clock.
type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	opts journal.Options
	now  time.Time
}

func Writable(t *testing.T, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: t.TempDir(),

		now: Start,
	}
	if o.FileName == "" {
		o.FileName = "j*.wal"
	}
	o.Now = func() time.Time { return j.now }
	o.Logger = TestLogger(t)
	o.Verbose = true
	j.opts = o

	j.open()
	t.Cleanup(func() {
		err := j.FinishWriting()
		if err != nil {
			t.Error(err)
		}
	})
	return j
}

func (j *TestJournal) open() {
	j.Journal = journal.New(j.Dir, j.opts)
	if err := j.StartWriting(); err != nil {
		j.T.Fatalf("StartWriting: %v", err)
	}
}

// Reopen closes the journal and opens it again for writing, as a restarted
// process would.
func (j *TestJournal) Reopen() {
	j.Journal.FinishWriting()
	j.open()
}

// TestLogger returns a logger that writes through t.Log.
func TestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
}

func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", fileName, err)
	}
	return b
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

func (j *TestJournal) FileNames() []string {
	var names []string
	for _, env := range must(os.ReadDir(j.Dir)) {
		names = append(names, env.Name())
	}
	slices.Sort(names)
	return names
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Expand builds expected bytes from whitespace-separated elements:
// "#N" is N as a uvarint, "'text" is literal text, and anything else is
// hex digits with optional "_" separators. An element of the form "A..B"
// places the bytes of A, zero padding, then the bytes of B, four bytes in
// total.
func Expand(elems ...string) []byte {
	var b []byte
	for _, line := range elems {
		for _, elem := range strings.Fields(line) {
			left, right, pad := strings.Cut(elem, "..")
			lb, rb := decodeElem(left, elem), decodeElem(right, elem)
			b = append(b, lb...)
			if pad {
				for n := len(lb) + len(rb); n < 4; n++ {
					b = append(b, 0)
				}
			}
			b = append(b, rb...)
		}
	}
	return b
}

func decodeElem(s, elem string) []byte {
	if dec, ok := strings.CutPrefix(s, "#"); ok {
		v, err := strconv.ParseUint(dec, 10, 64)
		if err != nil {
			panic(fmt.Errorf("element %q: %w", elem, err))
		}
		return binary.AppendUvarint(nil, v)
	}
	if text, ok := strings.CutPrefix(s, "'"); ok {
		return []byte(text)
	}
	s = strings.ReplaceAll(s, "_", "")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Errorf("element %q: %w", elem, err))
	}
	return b
}

// BytesEq reports a hex dump of both slices when they differ.
func BytesEq(t testing.TB, a, e []byte) bool {
	if bytes.Equal(a, e) {
		return true
	}
	off := min(len(a), len(e))
	for i := range off {
		if a[i] != e[i] {
			off = i
			break
		}
	}
	t.Helper()
	t.Errorf("** got:\n%swanted:\n%sfirst difference at offset 0x%x (%d)", hex.Dump(a), hex.Dump(e), off, off)
	return false
}
