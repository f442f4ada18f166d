package confdb

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/confdb/journal"
)

// AuditRecord describes who made one committed change.
type AuditRecord struct {
	Time     time.Time `msgpack:"t"`
	Sender   string    `msgpack:"s"`
	PID      int       `msgpack:"p"`
	Object   string    `msgpack:"o"`
	Database string    `msgpack:"d"`
	Prefix   string    `msgpack:"x"`
	Paths    []string  `msgpack:"k"`
}

func (r AuditRecord) FullPaths() []string {
	result := make([]string, len(r.Paths))
	for i, p := range r.Paths {
		result[i] = r.Prefix + p
	}
	return result
}

// Caller identifies the party on whose behalf the writer changes the
// database.
type Caller struct {
	Sender string
	PID    int
	Object string
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, defaulting to the current
// process.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	if c.PID == 0 {
		c.PID = os.Getpid()
	}
	if c.Sender == "" {
		c.Sender = "uid:" + strconv.Itoa(os.Getuid())
	}
	return c
}

type AuditOptions struct {
	Logger      *slog.Logger
	Now         func() time.Time
	MaxFileSize int64
	Sync        bool
}

// AuditLog is the append-only record of committed changes, stored in a
// journal directory.
type AuditLog struct {
	j      *journal.Journal
	now    func() time.Time
	logger *slog.Logger
}

// OpenAuditLog opens the audit log in dir. Only the writer calls
// StartWriting; readers can call Blame right away.
func OpenAuditLog(dir string, opt AuditOptions) *AuditLog {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &AuditLog{
		j: journal.New(dir, journal.Options{
			FileName:    "audit-*.log",
			DebugName:   "audit",
			MaxFileSize: opt.MaxFileSize,
			Now:         opt.Now,
			Sync:        opt.Sync,
			Logger:      opt.Logger,
		}),
		now:    opt.Now,
		logger: opt.Logger,
	}
}

func (a *AuditLog) StartWriting() error {
	return a.j.StartWriting()
}

func (a *AuditLog) Append(rec AuditRecord) error {
	if rec.Time.IsZero() {
		rec.Time = a.now()
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	return a.j.Append(data)
}

// Blame returns every record, most recent first.
func (a *AuditLog) Blame() ([]AuditRecord, error) {
	var result []AuditRecord
	err := a.j.Each(func(r journal.Record) error {
		var rec AuditRecord
		if err := msgpack.Unmarshal(r.Data, &rec); err != nil {
			a.logger.Warn("confdb: skipping undecodable audit record", "id", r.ID, "err", err)
			return nil
		}
		result = append(result, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(result)
	return result, nil
}

func (a *AuditLog) Close() error {
	return a.j.FinishWriting()
}
