// Package compiler builds read-only system databases from directories of
// keyfiles.
//
// A source directory holds any number of keyfiles plus an optional locks/
// subdirectory. Keyfiles are applied in descending lexicographic order of
// their names, and the first file to define a key wins, so a file named 99
// overrides one named 00. Names beginning with a dot are ignored, as is
// anything that is not a regular file. Every file under locks/ lists one
// locked path prefix per line.
package compiler

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/andreyvit/confdb/index"
	"github.com/andreyvit/confdb/keyfile"
	"github.com/andreyvit/confdb/keypath"
)

const (
	LocksDir  = "locks"
	SourceExt = ".d"
	FilePerm  = 0o644
)

var ErrParse = errors.New("compile parse error")

// ParseError reports a malformed keyfile or lock file.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

type Options struct {
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Compile reads the keyfiles and lock lists in dir and returns a builder
// holding the merged database.
func Compile(dir string, opt Options) (*index.Builder, error) {
	files, err := listDir(dir, false)
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	slices.Reverse(files)

	b := index.NewBuilder()
	for _, name := range files {
		fn := filepath.Join(dir, name)
		opt.logger().Debug("compiler: loading keyfile", "file", fn)
		raw, err := os.ReadFile(fn)
		if err != nil {
			return nil, err
		}
		entries, err := keyfile.Decode(string(raw), keypath.Root)
		if err != nil {
			return nil, &ParseError{File: name, Err: err}
		}
		for _, e := range entries {
			if b.Has(e.Key) {
				continue
			}
			if err := b.Set(e.Key, e.Value); err != nil {
				return nil, &ParseError{File: name, Err: err}
			}
		}
	}

	if err := readLocks(b, filepath.Join(dir, LocksDir)); err != nil {
		return nil, err
	}
	return b, nil
}

func readLocks(b *index.Builder, dir string) error {
	files, err := listDir(dir, false)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	slices.Sort(files)

	for _, name := range files {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		err = readLockFile(b, f, filepath.Join(LocksDir, name))
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func readLockFile(b *index.Builder, f *os.File, displayName string) error {
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if err := b.Lock(line); err != nil {
			return &ParseError{File: displayName, Err: fmt.Errorf("line %d: %w", lineNo, err)}
		}
	}
	return scanner.Err()
}

// listDir returns the names of regular files (or directories, if dirs is
// set) directly inside dir, skipping names that begin with a dot.
func listDir(dir string, dirs bool) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		name := ent.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if dirs && fi.IsDir() || !dirs && fi.Mode().IsRegular() {
			names = append(names, name)
		}
	}
	return names, nil
}

// CompileFile compiles dir and installs the result at out using the
// invalidate-then-rename protocol of index.Replace.
func CompileFile(out, dir string, opt Options) error {
	b, err := Compile(dir, opt)
	if err != nil {
		return err
	}
	return index.Replace(out, b.Bytes(), FilePerm)
}

// Result describes one target of an Update run.
type Result struct {
	Name   string
	Source string
	Target string
	Keys   int
	Locks  int
	Err    error
}

// Update compiles every NAME.d directory inside dbDir into the database
// file dbDir/NAME. A failing source does not prevent the others from being
// written; the returned error joins every failure.
func Update(dbDir string, opt Options) ([]Result, error) {
	dirs, err := listDir(dbDir, true)
	if err != nil {
		return nil, err
	}
	slices.Sort(dirs)

	var (
		results []Result
		errs    []error
	)
	for _, d := range dirs {
		name, ok := strings.CutSuffix(d, SourceExt)
		if !ok || name == "" {
			continue
		}
		r := Result{
			Name:   name,
			Source: filepath.Join(dbDir, d),
			Target: filepath.Join(dbDir, name),
		}
		b, err := Compile(r.Source, opt)
		if err == nil {
			r.Keys, r.Locks = b.Len(), len(b.Locks())
			err = index.Replace(r.Target, b.Bytes(), FilePerm)
		}
		if err != nil {
			r.Err = fmt.Errorf("%s: %w", d, err)
			errs = append(errs, r.Err)
			opt.logger().Warn("compiler: failed to update database", "source", r.Source, "err", err)
		} else {
			opt.logger().Info("compiler: updated database", "target", r.Target, "keys", r.Keys, "locks", r.Locks)
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}
