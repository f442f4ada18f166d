package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	confdbpkg "github.com/andreyvit/confdb"
)

func setupEnv(t *testing.T) string {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(root, "run"))
	profile := filepath.Join(root, "profile")
	if err := os.WriteFile(profile, []byte("user-db:user\nsystem-db:site\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFDB_PROFILE", profile)

	src := filepath.Join(root, "db", "site.d")
	if err := os.MkdirAll(filepath.Join(src, "locks"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "00-site"), []byte("[app]\nsize=10\nname='site'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "locks", "app"), []byte("/app/name\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(root, "db")
}

func confdb(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func expect(t *testing.T, stdin string, want string, args ...string) {
	t.Helper()
	out, err := confdb(t, stdin, args...)
	if err != nil {
		t.Fatalf("confdb %s failed: %v", strings.Join(args, " "), err)
	}
	if out != want {
		t.Errorf("confdb %s = %q, wanted %q", strings.Join(args, " "), out, want)
	}
}

func TestCommands(t *testing.T) {
	db := setupEnv(t)
	d := "--db-dir=" + db

	out, err := confdb(t, "", d, "update")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !strings.Contains(out, "2 keys, 1 locks") {
		t.Errorf("update printed %q", out)
	}

	expect(t, "", "10\n", d, "read", "/app/size")
	expect(t, "", "", d, "write", "/app/size", "42")
	expect(t, "", "42\n", d, "read", "/app/size")
	expect(t, "", "10\n", d, "read", "-d", "/app/size")
	expect(t, "", "name\nsize\n", d, "list", "/app/")
	expect(t, "", "/app/name\n", d, "list-locks", "/")
	expect(t, "", "/app/size\n", d, "complete", "/app/s")
	expect(t, "", "[app]\nname='site'\nsize=42\n", d, "dump", "/")

	if _, err := confdb(t, "", d, "write", "/app/name", "'x'"); err == nil {
		t.Errorf("write to a locked key succeeded")
	}
	if _, err := confdb(t, "", d, "reset", "/app/"); err == nil {
		t.Errorf("reset of a non-empty directory without -f succeeded")
	}
	expect(t, "", "", d, "reset", "-f", "/app/")
	expect(t, "", "10\n", d, "read", "/app/size")

	if _, err := confdb(t, "[/]\nname='y'\n", d, "load", "/app/"); !errors.Is(err, confdbpkg.ErrLockedKey) {
		t.Errorf("load of a locked key = %v, wanted ErrLockedKey", err)
	}
	expect(t, "[/]\nname='y'\nsize=7\n", "skipped locked key /app/name\n", d, "load", "-f", "/app/")
	expect(t, "", "7\n", d, "read", "/app/size")
	expect(t, "", "'site'\n", d, "read", "/app/name")

	out, err = confdb(t, "", d, "blame")
	if err != nil {
		t.Fatalf("blame failed: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 3 || !strings.HasSuffix(lines[0], "user /app/size") {
		t.Errorf("blame printed %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	setupEnv(t)
	for _, args := range [][]string{
		{"frobnicate"},
		{"read"},
		{"write", "/a"},
		{"compile", "out"},
		{"--no-such-flag", "read", "/a"},
	} {
		_, err := confdb(t, "", args...)
		var ue *usageError
		if !errors.As(err, &ue) || ue.ExitCode() != 2 {
			t.Errorf("confdb %s = %v, wanted a usage error", strings.Join(args, " "), err)
		}
	}
}
