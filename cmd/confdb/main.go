// confdb is the command-line front end to a confdb database stack.
//
// The stack is located through the environment: CONFDB_PROFILE names the
// profile, user databases live in $XDG_CONFIG_HOME/confdb and the audit
// log in $XDG_RUNTIME_DIR/confdb.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/andreyvit/confdb"
	"github.com/andreyvit/confdb/compiler"
	"github.com/andreyvit/confdb/value"
)

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }
func (e *usageError) ExitCode() int { return 2 }

func usagef(format string, args ...any) error {
	return &usageError{fmt.Sprintf(format, args...)}
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "confdb: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var force, defaultValue, verbose bool
	var profile, dbDir string

	flagSet := pflag.NewFlagSet("confdb", pflag.ContinueOnError)
	flagSet.SetInterspersed(true)
	flagSet.BoolVarP(&force, "force", "f", false, "reset a non-empty directory, or load skipping locked keys")
	flagSet.BoolVarP(&defaultValue, "default", "d", false, "read: ignore the user database")
	flagSet.StringVar(&profile, "profile", "", "profile file (default: $"+confdb.EnvProfile+" lookup)")
	flagSet.StringVar(&dbDir, "db-dir", "", "system database directory (default: "+confdb.DefaultSystemDBDir+")")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log debug messages to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return &usageError{err.Error()}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args = flagSet.Args()
	if len(args) == 0 || args[0] == "help" {
		printHelp(flagSet)
		return nil
	}
	cmd, args := args[0], args[1:]

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := confdb.ConfigFromEnv()
	cfg.Logger = logger
	if profile != "" {
		cfg.ProfilePath = profile
	}
	if dbDir != "" {
		cfg.SystemDBDir = dbDir
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "update":
		if err := nargs(cmd, args, 0, 1); err != nil {
			return err
		}
		dir := cfg.SystemDBDir
		if len(args) > 0 {
			dir = args[0]
		}
		results, err := compiler.Update(dir, compiler.Options{Logger: logger})
		for _, r := range results {
			if r.Err == nil {
				fmt.Fprintf(stdout, "%s: %d keys, %d locks\n", r.Target, r.Keys, r.Locks)
			}
		}
		return err
	case "compile":
		if err := nargs(cmd, args, 2, 2); err != nil {
			return err
		}
		return compiler.CompileFile(args[0], args[1], compiler.Options{Logger: logger})
	case "blame":
		if err := nargs(cmd, args, 0, 0); err != nil {
			return err
		}
		return blame(cfg, stdout)
	}

	st, err := confdb.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch cmd {
	case "read":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		read := st.Read
		if defaultValue {
			read = st.ReadDefault
		}
		v, found, err := read(args[0])
		if err != nil {
			return err
		}
		if found {
			fmt.Fprintln(stdout, v.String())
		}
		return nil

	case "list":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		names, err := st.List(args[0])
		if err != nil {
			return err
		}
		return printLines(stdout, names)

	case "list-locks":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		locks, err := st.ListLocks(args[0])
		if err != nil {
			return err
		}
		return printLines(stdout, locks)

	case "complete":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		return printLines(stdout, st.Complete(args[0]))

	case "dump":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		text, err := st.Dump(args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, text)
		return err

	case "describe":
		if err := nargs(cmd, args, 0, 0); err != nil {
			return err
		}
		_, err := io.WriteString(stdout, st.Describe(confdb.DumpAll))
		return err

	case "watch":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		return watch(ctx, st, args[0], stdout, logger)

	case "write", "reset", "load":
		return change(ctx, cfg, st, cmd, args, force, stdin, stdout)

	default:
		return usagef("unknown command %q, run \"confdb help\"", cmd)
	}
}

func change(ctx context.Context, cfg confdb.Config, st *confdb.Stack, cmd string, args []string, force bool, stdin io.Reader, stdout io.Writer) error {
	var err error
	switch cmd {
	case "write":
		err = nargs(cmd, args, 2, 2)
	default:
		err = nargs(cmd, args, 1, 1)
	}
	if err != nil {
		return err
	}

	w, err := confdb.OpenWriter(st, confdb.WriterOptions{
		Hub:   confdb.NewHub(confdb.HubOptions{Logger: cfg.Logger}),
		Audit: confdb.OpenAuditLog(filepath.Join(cfg.RuntimeDir, "audit"), confdb.AuditOptions{Logger: cfg.Logger}),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	var res *confdb.Result
	switch cmd {
	case "write":
		v, perr := value.Parse(args[1])
		if perr != nil {
			return perr
		}
		res, err = w.Write(ctx, args[0], v)
	case "reset":
		if strings.HasSuffix(args[0], "/") {
			res, err = w.ResetDir(ctx, args[0], force)
		} else {
			res, err = w.Reset(ctx, args[0])
		}
	case "load":
		raw, rerr := io.ReadAll(stdin)
		if rerr != nil {
			return rerr
		}
		res, err = w.Load(ctx, args[0], string(raw), force)
	}
	if errors.Is(err, confdb.ErrConfirmationRequired) {
		return fmt.Errorf("%w (use -f to reset anyway)", err)
	}
	if err != nil {
		return err
	}
	for _, key := range res.Skipped {
		fmt.Fprintf(stdout, "skipped locked key %s\n", key)
	}
	return nil
}

func watch(ctx context.Context, st *confdb.Stack, dir string, stdout io.Writer, logger *slog.Logger) error {
	hub := confdb.NewHub(confdb.HubOptions{Logger: logger})
	defer hub.Close()
	fw, err := confdb.NewFileWatcher(st, hub)
	if err != nil {
		return err
	}
	defer fw.Close()

	sub, err := hub.Subscribe(dir)
	if err != nil {
		return err
	}
	go fw.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return sub.Err()
			}
			fmt.Fprintln(stdout, ev.String())
		}
	}
}

func blame(cfg confdb.Config, stdout io.Writer) error {
	log := confdb.OpenAuditLog(filepath.Join(cfg.RuntimeDir, "audit"), confdb.AuditOptions{Logger: cfg.Logger})
	defer log.Close()
	recs, err := log.Blame()
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Fprintf(stdout, "%s %s pid=%d %s %s %s\n", r.Time.Format(time.RFC3339), r.Sender, r.PID, r.Object, r.Database, strings.Join(r.FullPaths(), " "))
	}
	return nil
}

func nargs(cmd string, args []string, lo, hi int) error {
	if len(args) < lo {
		return usagef("%s: missing argument", cmd)
	}
	if len(args) > hi {
		return usagef("%s: unexpected argument %q", cmd, args[hi])
	}
	return nil
}

func printLines(w io.Writer, lines []string) error {
	for _, s := range lines {
		if _, err := fmt.Fprintln(w, s); err != nil {
			return err
		}
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `confdb reads and writes a layered configuration database.

Usage:
  confdb [flags] COMMAND [ARGS]

Commands:
  read [-d] KEY         print the value of KEY (-d: ignore the user database)
  list DIR              list keys and subdirectories of DIR
  list-locks DIR        list locks at or under DIR
  write KEY VALUE       store VALUE at KEY
  reset [-f] PATH       remove a key, or a whole directory with -f
  dump DIR              print DIR as keyfile text
  load [-f] DIR         read keyfile text from stdin into DIR
  update [DBDIR]        compile every NAME.d directory into NAME
  compile OUT DIR       compile DIR into the database file OUT
  watch PATH            print changes at or under PATH until interrupted
  blame                 print the audit log, newest first
  complete PREFIX       print paths that start with PREFIX
  describe              print every source of the stack

Examples:
  confdb write /org/app/size 42
  confdb dump /org/app/ > app.ini
  confdb load -f /org/app/ < app.ini

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
