package confdb

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type SourceKind int

const (
	KindUser SourceKind = iota
	KindSystem
)

func (k SourceKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSystem:
		return "system"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// SourceSpec is one line of a profile.
type SourceSpec struct {
	Kind SourceKind
	Name string

	// Path is set for file-db lines. Other sources are resolved against
	// Config.UserDir or Config.SystemDBDir.
	Path string
}

func (s SourceSpec) String() string {
	switch {
	case s.Kind == KindUser:
		return "user-db:" + s.Name
	case s.Path != "":
		return "file-db:" + s.Path
	default:
		return "system-db:" + s.Name
	}
}

// Profile is the ordered list of sources that make up a stack. The user
// source, if any, comes first.
type Profile struct {
	Sources []SourceSpec
}

func DefaultProfile() *Profile {
	return &Profile{Sources: []SourceSpec{{Kind: KindUser, Name: DefaultProfileName}}}
}

func LoadProfile(fn string, logger *slog.Logger) (*Profile, error) {
	raw, err := os.ReadFile(fn)
	if err != nil {
		return nil, ioErr("load profile", fn, err)
	}
	p, err := ParseProfile(string(raw), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return p, nil
}

// ParseProfile reads a profile: one source per line, "#" starts a comment.
// Recognized lines are user-db:NAME, system-db:NAME and file-db:PATH.
// Unknown lines are logged and skipped.
func ParseProfile(text string, logger *slog.Logger) (*Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Profile{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		kind, arg, _ := strings.Cut(line, ":")
		arg = strings.TrimSpace(arg)
		var spec SourceSpec
		switch kind {
		case "user-db":
			spec = SourceSpec{Kind: KindUser, Name: arg}
		case "system-db":
			spec = SourceSpec{Kind: KindSystem, Name: arg}
		case "file-db":
			spec = SourceSpec{Kind: KindSystem, Name: arg, Path: arg}
		default:
			logger.Warn("confdb: ignoring unknown profile line", "line", lineNo, "text", line)
			continue
		}
		if spec.Name == "" || (spec.Path == "" && strings.ContainsRune(spec.Name, '/')) {
			return nil, fmt.Errorf("%w: line %d: invalid database name %q", ErrProfile, lineNo, arg)
		}
		if spec.Kind == KindUser && len(p.Sources) > 0 {
			return nil, fmt.Errorf("%w: line %d: user-db must be the first and only writable source", ErrProfile, lineNo)
		}
		p.Sources = append(p.Sources, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// User returns the writable source, if the profile has one.
func (p *Profile) User() (SourceSpec, bool) {
	if len(p.Sources) > 0 && p.Sources[0].Kind == KindUser {
		return p.Sources[0], true
	}
	return SourceSpec{}, false
}

func (p *Profile) String() string {
	var buf strings.Builder
	for _, s := range p.Sources {
		buf.WriteString(s.String())
		buf.WriteByte('\n')
	}
	return buf.String()
}
