package confdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/confdb/index"
	"github.com/andreyvit/confdb/keyfile"
	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

const (
	ObjectPrefix = "/confdb/Writer/"
	FilePerm     = 0o644
	LockSuffix   = ".lock"
)

type WriterOptions struct {
	// Hub receives an event after every commit that changed the database.
	Hub *Hub

	// Audit, if set, receives a record of every commit that changed the
	// database. The writer starts writing to it.
	Audit *AuditLog

	Logger *slog.Logger
	Now    func() time.Time
}

// Writer is the only mutator of a stack's user source. One writer per user
// database may exist across all processes; OpenWriter enforces that with an
// advisory lock file, and the writer serializes its own transactions.
type Writer struct {
	st     *Stack
	src    *Source
	hub    *Hub
	audit  *AuditLog
	logger *slog.Logger
	now    func() time.Time
	object string

	lockFile *os.File

	mu     sync.Mutex
	closed bool

	CommitCount   atomic.Uint64
	NoOpCount     atomic.Uint64
	LockedCount   atomic.Uint64
	AuditErrCount atomic.Uint64
}

// Result describes a committed transaction.
type Result struct {
	// Changed is false if the transaction left the database as it was, in
	// which case nothing was written, recorded or published.
	Changed bool

	Seq    uint64
	Prefix string
	Paths  []string

	// Skipped lists locked keys that a forced load did not apply.
	Skipped []string
}

func OpenWriter(st *Stack, opt WriterOptions) (*Writer, error) {
	src := st.User()
	if src == nil {
		return nil, &PathError{"open writer", "", ErrNotWritable}
	}
	if opt.Logger == nil {
		opt.Logger = st.logger
	}
	if opt.Now == nil {
		opt.Now = st.cfg.Now
	}

	if err := os.MkdirAll(filepath.Dir(src.Path), 0o755); err != nil {
		return nil, ioErr("open writer", src.Path, err)
	}
	lockFile, err := lockExclusive(src.Path + LockSuffix)
	if err != nil {
		return nil, &PathError{"open writer", src.Path, err}
	}

	w := &Writer{
		st:       st,
		src:      src,
		hub:      opt.Hub,
		audit:    opt.Audit,
		logger:   opt.Logger.With("db", src.Name),
		now:      opt.Now,
		object:   ObjectPrefix + src.Name,
		lockFile: lockFile,
	}
	if w.audit != nil {
		if err := w.audit.StartWriting(); err != nil {
			unlock(lockFile)
			return nil, ioErr("open audit log", src.Name, err)
		}
	}
	return w, nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.audit != nil {
		err = w.audit.Close()
	}
	unlock(w.lockFile)
	return err
}

func (w *Writer) Source() *Source {
	return w.src
}

// Write stores v at key.
func (w *Writer) Write(ctx context.Context, key string, v value.Value) (*Result, error) {
	cs := NewChangeset()
	if err := cs.Set(key, v); err != nil {
		return nil, err
	}
	return w.Change(ctx, cs)
}

// Reset removes key. Resetting an absent key does nothing.
func (w *Writer) Reset(ctx context.Context, key string) (*Result, error) {
	if err := keypath.CheckKey(key); err != nil {
		return nil, &PathError{"reset", key, err}
	}
	cs := NewChangeset()
	cs.Reset(key)
	return w.Change(ctx, cs)
}

// ResetDir removes every key under dir. If the user database has keys
// there, force must be set.
func (w *Writer) ResetDir(ctx context.Context, dir string, force bool) (*Result, error) {
	if err := keypath.CheckDir(dir); err != nil {
		return nil, &PathError{"reset", dir, err}
	}
	cs := NewChangeset()
	cs.Reset(dir)
	return w.change(ctx, cs, func(tx *tx) error {
		if n := tx.countUnder(dir); n > 0 && !force {
			return pathErrf("reset", dir, ErrConfirmationRequired, "%d keys would be removed", n)
		}
		return nil
	})
}

// Load parses keyfile text and writes its keys under dir in one
// transaction. If any key is locked, the load fails unless force is set, in
// which case locked keys are skipped and listed in Result.Skipped.
func (w *Writer) Load(ctx context.Context, dir string, text string, force bool) (*Result, error) {
	if err := keypath.CheckDir(dir); err != nil {
		return nil, &PathError{"load", dir, err}
	}
	entries, err := keyfile.Decode(text, dir)
	if err != nil {
		return nil, &PathError{"load", dir, err}
	}

	cs := NewChangeset()
	var locked []string
	for _, e := range entries {
		if w.st.isLocked(e.Key) {
			locked = append(locked, e.Key)
			continue
		}
		if err := cs.Set(e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	if len(locked) > 0 {
		if !force {
			w.LockedCount.Add(1)
			return nil, &LockedError{locked}
		}
		for _, key := range locked {
			w.logger.Warn("confdb: load skipped locked key", "key", key)
		}
	}

	res, err := w.Change(ctx, cs)
	if err != nil {
		return nil, err
	}
	res.Skipped = locked
	return res, nil
}

// Change applies a changeset as one transaction. A write to a locked key,
// or a reset of a locked path, rejects the whole changeset.
func (w *Writer) Change(ctx context.Context, cs *Changeset) (*Result, error) {
	return w.change(ctx, cs, nil)
}

func (w *Writer) change(ctx context.Context, cs *Changeset, check func(tx *tx) error) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var locked []string
	for _, chg := range cs.changes {
		if w.st.isLocked(chg.Path) {
			locked = append(locked, chg.Path)
		}
	}
	if len(locked) > 0 {
		w.LockedCount.Add(1)
		return nil, &LockedError{locked}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	tx, err := w.begin()
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(tx); err != nil {
			return nil, err
		}
	}

	changed := tx.apply(cs)
	if len(changed) == 0 {
		w.NoOpCount.Add(1)
		return &Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	written, err := index.ReplaceIfChanged(w.src.Path, tx.b.Bytes(), FilePerm)
	if err != nil {
		return nil, ioErr("commit", w.src.Path, err)
	}
	if !written {
		w.NoOpCount.Add(1)
		return &Result{}, nil
	}
	w.CommitCount.Add(1)
	w.src.refresh(false)

	res := &Result{Changed: true}
	res.Prefix, res.Paths = describePaths(changed)
	w.logger.LogAttrs(ctx, slog.LevelDebug, "confdb: committed", pathsAttr("paths", res.Prefix, res.Paths))

	caller := CallerFrom(ctx)
	if caller.Object == "" {
		caller.Object = w.object
	}
	if w.audit != nil {
		err := w.audit.Append(AuditRecord{
			Time:     w.now(),
			Sender:   caller.Sender,
			PID:      caller.PID,
			Object:   caller.Object,
			Database: w.src.Name,
			Prefix:   res.Prefix,
			Paths:    res.Paths,
		})
		if err != nil {
			// the change itself is already on disk
			w.AuditErrCount.Add(1)
			w.logger.LogAttrs(ctx, slog.LevelError, "confdb: audit append failed", pathsAttr("paths", res.Prefix, res.Paths), slog.Any("err", err))
		}
	}

	if w.hub != nil {
		ev := Event{
			Source: w.src.Name,
			Prefix: res.Prefix,
			Paths:  res.Paths,
			Time:   w.now(),
		}
		if len(changed) == 1 && !strings.HasSuffix(changed[0], "/") {
			if v, found := tx.b.Get(changed[0]); found {
				ev.Value = v
			}
		}
		res.Seq = w.hub.Publish(ev)
	}
	return res, nil
}

// tx is the state of one transaction: a builder holding the next version of
// the user database. It runs in two phases: checks look at the current
// contents, then apply mutates the builder. Nothing touches the disk until
// the caller installs the result.
type tx struct {
	b *index.Builder
}

func (w *Writer) begin() (*tx, error) {
	f, err := index.Open(w.src.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return &tx{index.NewBuilder()}, nil
	} else if errors.Is(err, index.ErrInvalid) {
		w.logger.Warn("confdb: replacing corrupted user database", "path", w.src.Path, "err", err)
		return &tx{index.NewBuilder()}, nil
	} else if err != nil {
		return nil, ioErr("open", w.src.Path, err)
	}
	defer f.Close()
	return &tx{f.Builder()}, nil
}

func (tx *tx) countUnder(dir string) int {
	n := 0
	for _, key := range tx.b.Keys() {
		if strings.HasPrefix(key, dir) {
			n++
		}
	}
	return n
}

// apply performs the changes and returns the paths that actually changed,
// in order.
func (tx *tx) apply(cs *Changeset) []string {
	var changed []string
	for _, chg := range cs.changes {
		switch chg.Op {
		case OpWrite:
			if old, found := tx.b.Get(chg.Path); found && value.Equal(old, chg.Value) {
				continue
			}
			if err := tx.b.Set(chg.Path, chg.Value); err != nil {
				panic(fmt.Errorf("changeset holds an invalid entry: %w", err))
			}
		case OpReset:
			if chg.IsDir() {
				if tx.b.DeleteDir(chg.Path) == 0 {
					continue
				}
			} else {
				if !tx.b.Has(chg.Path) {
					continue
				}
				tx.b.Delete(chg.Path)
			}
		default:
			continue
		}
		changed = append(changed, chg.Path)
	}
	return changed
}
