// Package journal implements segmented append-only record files. The
// database uses it to keep the audit log of committed writes.
//
// Records are appended in transactions. A transaction becomes durable once
// Commit writes its trailer, which carries a running xxhash checksum of the
// whole segment so far. Readers only return committed records; anything
// after the last valid trailer is an interrupted transaction and is
// truncated away when the journal is reopened for writing.
//
// Segment files are named PREFIX<segment>-<timestamp>-<first record id>SUFFIX
// and are rotated once they grow past Options.MaxFileSize.
//
// File format:
//
//   - segment = segmentHeader (record* commit)*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 segment:32 timestamp:32 prevChecksum:64 journalInvariant:256 segmentInvariant:256 reserved:192 checksum:64
//   - record = (size<<1):uvarint timestampDelta:uvarint bytes*
//   - commit = checksum:64, with the lowest bit of the first byte set
package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/confdb/mmap"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrClosed             = errors.New("journal is closed")
	errCorruptedFile      = errors.New("corrupted journal segment file")
)

type Options struct {
	Context          context.Context
	FileName         string // e.g. "audit-*.log"
	MaxFileSize      int64  // new segment after this size
	DebugName        string
	Now              func() time.Time
	JournalInvariant [32]byte
	SegmentInvariant [32]byte

	// Sync makes every Commit fdatasync the segment file.
	Sync bool

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x5444554142464e43 // "CNFBAUDT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 16 * 8

type segmentHeader struct {
	Magic            uint64
	Version          uint8
	_                uint8
	Flags            uint16
	_                uint32
	SegmentOrdinal   uint32
	Timestamp        uint32
	PrevChecksum     uint64
	JournalInvariant [32]byte
	SegmentInvariant [32]byte
	_                [3]uint64
	Checksum         uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	commitSize            = 8
	timestampFmt          = "20060102T150405"
	maxRecordSize         = 64 * 1024 * 1024
)

// Record is one committed entry read back from the journal.
type Record struct {
	ID      uint64
	Segment uint32
	Time    time.Time
	Data    []byte
}

// Journal is a directory of segment files with at most one writer.
type Journal struct {
	context          context.Context
	maxFileSize      int64
	fileNamePrefix   string
	fileNameSuffix   string
	debugName        string
	dir              string
	now              func() time.Time
	logger           *slog.Logger
	sync             bool
	verbose          bool
	journalInvariant [32]byte
	segmentInvariant [32]byte

	writeLock sync.Mutex
	writable  bool
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
}

func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		context:          o.Context,
		maxFileSize:      o.MaxFileSize,
		fileNamePrefix:   prefix,
		fileNameSuffix:   suffix,
		debugName:        o.DebugName,
		dir:              dir,
		now:              o.Now,
		sync:             o.Sync,
		verbose:          o.Verbose,
		journalInvariant: o.JournalInvariant,
		segmentInvariant: o.SegmentInvariant,
		logger:           o.Logger,
	}
}

func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) Dir() string {
	return j.dir
}

// StartWriting prepares the journal for appending: the last segment is
// verified, any uncommitted tail is truncated, and writing continues in it.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writable {
		return nil
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return j.fail(err)
	}
	j.writeErr = nil
	if err := j.fail(j.resume_locked()); err != nil {
		return err
	}
	j.writable = true
	return nil
}

func (j *Journal) resume_locked() error {
	for {
		names, err := j.segmentNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		lastName := names[len(names)-1]

		seq, _, id, err := parseSegmentName(strings.TrimSuffix(strings.TrimPrefix(lastName, j.fileNamePrefix), j.fileNameSuffix))
		if err != nil {
			return err
		}

		f, err := j.openFile(lastName, true)
		if err != nil {
			return err
		}
		sw, n, err := j.scanForAppend(f, seq)
		if err == errCorruptedFile {
			f.Close()
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", lastName))
			if err := os.Remove(filepath.Join(j.dir, lastName)); err != nil {
				return fmt.Errorf("journal: failed to delete corrupted file: %w", err)
			}
			continue
		} else if err != nil {
			f.Close()
			return err
		}

		j.writeSeg = seq
		j.writeRec = id + uint64(n) - 1
		if sw.size >= j.maxFileSize {
			sw.close()
		} else {
			j.segWriter = sw
		}
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: resumed", slog.String("jrnl", j.debugName), slog.String("file", lastName), slog.Int("records", n), slog.Int64("size", sw.size))
		}
		return nil
	}
}

// scanForAppend reads a segment, truncates it after the last commit and
// returns a writer positioned at its end along with the number of committed
// records.
func (j *Journal) scanForAppend(f *os.File, seq uint32) (*segmentWriter, int, error) {
	sr, err := j.newSegmentReader(f, seq)
	if err != nil {
		return nil, 0, err
	}
	n := 0
	for {
		recs, ok, err := sr.next()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			break
		}
		n += len(recs)
	}
	if err := f.Truncate(sr.committedOff); err != nil {
		return nil, 0, err
	}
	if _, err := f.Seek(sr.committedOff, io.SeekStart); err != nil {
		return nil, 0, err
	}
	return &segmentWriter{
		f:    f,
		seg:  seq,
		ts:   sr.committedTS,
		size: sr.committedOff,
		hash: sr.committedHash,
		sync: j.sync,
	}, n, nil
}

func (j *Journal) FinishWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	var err error
	if j.segWriter != nil && j.segWriter.uncommitted {
		err = errors.New("journal: closing with uncommitted records")
	}
	j.finishWriting_locked()
	return err
}

func (j *Journal) finishWriting_locked() {
	j.writable = false
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))

	j.finishWriting_locked()

	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

func (j *Journal) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		return os.Open(fn)
	}
}

// segmentNames lists segment files in ascending order.
func (j *Journal) segmentNames() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, j.fileNamePrefix) || !strings.HasSuffix(name, j.fileNameSuffix) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// WriteRecord appends a record to the current transaction. A zero timestamp
// means now.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > maxRecordSize {
		return fmt.Errorf("journal: record of %d bytes exceeds the limit", len(data))
	}

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		return ErrClosed
	}

	if timestamp == 0 {
		timestamp = j.Now()
	}

	j.writeRec++

	if j.segWriter == nil {
		j.writeSeg++

		sw, err := startSegment(j, j.writeSeg, timestamp, j.writeRec)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
	}

	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

// Commit seals the records written since the previous commit and rotates to
// a new segment if the current one has grown past the size limit.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	if err := j.segWriter.commit(); err != nil {
		return j.fail(err)
	}
	if j.segWriter.size >= j.maxFileSize {
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: rotating", slog.String("jrnl", j.debugName), slog.Uint64("seg", uint64(j.segWriter.seg)), slog.Int64("size", j.segWriter.size))
		}
		j.segWriter.close()
		j.segWriter = nil
	}
	return nil
}

// Append writes a single record and commits it.
func (j *Journal) Append(data []byte) error {
	if err := j.WriteRecord(0, data); err != nil {
		return err
	}
	return j.Commit()
}

// ReadAll returns every committed record in all segments, oldest first. A
// corrupted segment ends the read of that segment without an error.
func (j *Journal) ReadAll() ([]Record, error) {
	var result []Record
	err := j.Each(func(r Record) error {
		result = append(result, r)
		return nil
	})
	return result, err
}

// Each calls fn for every committed record, oldest first.
func (j *Journal) Each(fn func(r Record) error) error {
	names, err := j.segmentNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := j.context.Err(); err != nil {
			return err
		}
		err := j.eachInSegment(name, fn)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: skipping corrupted segment", slog.String("jrnl", j.debugName), slog.String("file", name))
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) eachInSegment(name string, fn func(r Record) error) error {
	seq, _, id, err := parseSegmentName(strings.TrimSuffix(strings.TrimPrefix(name, j.fileNamePrefix), j.fileNameSuffix))
	if err != nil {
		return err
	}
	f, err := j.openFile(name, false)
	if err != nil {
		return err
	}
	defer f.Close()

	sr, err := j.newSegmentReader(f, seq)
	if err != nil {
		return err
	}
	for {
		recs, ok, err := sr.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, r := range recs {
			r.ID = id
			id++
			if err := fn(r); err != nil {
				return err
			}
		}
	}
}

func (j *Journal) readHeader(r io.Reader, h *segmentHeader, hash *xxhash.Digest, expectedSeq uint32) error {
	var buf [segmentHeaderSize]byte
	_, err := io.ReadFull(r, buf[:])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return errCorruptedFile
	} else if err != nil {
		return err
	}
	n, err := binary.Decode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	if hash.Sum64() != h.Checksum {
		return errCorruptedFile
	}
	hash.Write(buf[segmentHeaderSize-8:])
	if h.Magic != magic {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.JournalInvariant != j.journalInvariant {
		return ErrIncompatible
	}
	return nil
}

// segmentReader decodes records and groups them into committed
// transactions.
type segmentReader struct {
	r    *bufio.Reader
	off  int64
	ts   uint32
	hash xxhash.Digest

	committedOff  int64
	committedTS   uint32
	committedHash xxhash.Digest
}

func (j *Journal) newSegmentReader(f *os.File, seq uint32) (*segmentReader, error) {
	sr := &segmentReader{r: bufio.NewReader(f)}
	sr.hash.Reset()
	var h segmentHeader
	if err := j.readHeader(sr.r, &h, &sr.hash, seq); err != nil {
		return nil, err
	}
	sr.off = segmentHeaderSize
	sr.ts = h.Timestamp
	sr.committedOff, sr.committedTS, sr.committedHash = sr.off, sr.ts, sr.hash
	return sr, nil
}

// next returns the records of the next committed transaction, or ok=false
// at the end of the committed data.
func (sr *segmentReader) next() (recs []Record, ok bool, err error) {
	for {
		first, err := sr.r.Peek(1)
		if err == io.EOF {
			return nil, false, nil
		} else if err != nil {
			return nil, false, err
		}

		if first[0]&recordFlagCommit != 0 {
			var buf [commitSize]byte
			if _, err := io.ReadFull(sr.r, buf[:]); err != nil {
				return nil, false, nil
			}
			var expected [commitSize]byte
			binary.LittleEndian.PutUint64(expected[:], sr.hash.Sum64())
			expected[0] |= recordFlagCommit
			if buf != expected || len(recs) == 0 {
				return nil, false, nil
			}
			sr.hash.Write(buf[:])
			sr.off += commitSize
			sr.committedOff, sr.committedTS, sr.committedHash = sr.off, sr.ts, sr.hash
			return recs, true, nil
		}

		hdrStart := sr.off
		sizeAndFlags, n1, err := readUvarint(sr.r)
		if err != nil {
			return nil, false, nil
		}
		tsDelta, n2, err := readUvarint(sr.r)
		if err != nil {
			return nil, false, nil
		}
		size := sizeAndFlags >> recordFlagShift
		if size == 0 || size > maxRecordSize || tsDelta > 0xFFFF_FFFF {
			return nil, false, nil
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(sr.r, data); err != nil {
			return nil, false, nil
		}

		var hbuf [maxRecHeaderLen]byte
		sr.hash.Write(appendRecordHeader(hbuf[:0], int(size), uint32(tsDelta)))
		sr.hash.Write(data)
		sr.off = hdrStart + int64(n1+n2) + int64(size)
		sr.ts += uint32(tsDelta)
		recs = append(recs, Record{
			Time: time.Unix(int64(sr.ts), 0).UTC(),
			Data: data,
		})
	}
}

func readUvarint(r io.ByteReader) (uint64, int, error) {
	var n int
	v, err := binary.ReadUvarint(byteCounter{r, &n})
	return v, n, err
}

type byteCounter struct {
	r io.ByteReader
	n *int
}

func (c byteCounter) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		*c.n++
	}
	return b, err
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	sync        bool
	uncommitted bool
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
		sync: j.sync,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: new segment", slog.String("jrnl", j.debugName), slog.String("file", name))
	}
	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	if _, err := sw.f.Write(h); err != nil {
		return err
	}

	sw.hash.Write(data)
	if _, err := sw.f.Write(data); err != nil {
		return err
	}

	sw.size += int64(len(h) + len(data))
	return nil
}

func (sw *segmentWriter) commit() error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [commitSize]byte
	binary.LittleEndian.PutUint64(buf[:], sw.hash.Sum64())
	buf[0] |= recordFlagCommit

	sw.hash.Write(buf[:])
	if _, err := sw.f.Write(buf[:]); err != nil {
		return err
	}
	sw.size += commitSize

	if sw.sync {
		return mmap.Fdatasync(sw.f)
	}
	return nil
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *Journal, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:            magic,
		Version:          version0,
		SegmentOrdinal:   seg,
		Timestamp:        ts,
		JournalInvariant: j.journalInvariant,
		SegmentInvariant: j.segmentInvariant,
	}

	n, err := binary.Encode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
