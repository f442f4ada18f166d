package confdb

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultProfileDir  = "/etc/confdb/profile"
	DefaultSystemDBDir = "/etc/confdb/db"
	DefaultProfileName = "user"

	EnvProfile = "CONFDB_PROFILE"
)

// Config describes where a database stack lives. It is built once and
// passed to Open; nothing in this package reads global state.
type Config struct {
	// ProfilePath names the profile file. If empty, Profile is used, and
	// if that is nil too, the built-in profile "user-db:user".
	ProfilePath string
	Profile     *Profile

	// UserDir holds user-db files and the NAME.lock file that serializes
	// writers of each.
	UserDir string

	// SystemDBDir holds system-db files and the NAME.d sources they are
	// compiled from.
	SystemDBDir string

	// RuntimeDir holds the audit log.
	RuntimeDir string

	Logger *slog.Logger
	Now    func() time.Time
}

// ConfigFromEnv fills a Config the way the command-line tool does:
// CONFDB_PROFILE names a profile (an absolute path or a name inside
// /etc/confdb/profile), user databases live in $XDG_CONFIG_HOME/confdb and
// runtime state in $XDG_RUNTIME_DIR/confdb.
func ConfigFromEnv() Config {
	home, _ := os.UserHomeDir()
	cfg := Config{
		SystemDBDir: DefaultSystemDBDir,
		UserDir:     filepath.Join(envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config")), "confdb"),
		RuntimeDir:  filepath.Join(envOr("XDG_RUNTIME_DIR", os.TempDir()), "confdb"),
	}
	cfg.ProfilePath = findProfile(os.Getenv(EnvProfile), cfg.RuntimeDir, fileExists)
	return cfg
}

// findProfile resolves the profile lookup order: an explicit name or path,
// then a runtime profile, then the system default profile. An empty result
// means the built-in default.
func findProfile(env, runtimeDir string, exists func(string) bool) string {
	if env != "" {
		if strings.HasPrefix(env, "/") {
			return env
		}
		return filepath.Join(DefaultProfileDir, env)
	}
	if fn := filepath.Join(runtimeDir, "profile"); exists(fn) {
		return fn
	}
	if fn := filepath.Join(DefaultProfileDir, DefaultProfileName); exists(fn) {
		return fn
	}
	return ""
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.SystemDBDir == "" {
		c.SystemDBDir = DefaultSystemDBDir
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func fileExists(fn string) bool {
	_, err := os.Stat(fn)
	return err == nil
}
