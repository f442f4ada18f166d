package confdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpSources = DumpFlags(1 << iota)
	DumpLocks
	DumpEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var dumpSep = strings.Repeat("-", 60)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Describe renders the state of every source for debugging.
func (st *Stack) Describe(f DumpFlags) string {
	var buf strings.Builder
	for i, src := range st.sources {
		if i > 0 {
			fmt.Fprintln(&buf, dumpSep)
		}
		st.describeSource(&buf, f, src, i+1)
	}
	return buf.String()
}

func (st *Stack) describeSource(w *strings.Builder, f DumpFlags, src *Source, pos int) {
	entries := src.Entries()
	locks := src.Locks("/")
	exists := src.Exists()

	if f.Contains(DumpSources) {
		state := "missing"
		if exists {
			state = fmt.Sprintf("%d keys, %d locks", len(entries), len(locks))
		}
		fmt.Fprintf(w, "%d. %s (%s) %s: %s\n", pos, src.Name, src.Kind, src.Path, state)
	}
	if f.Contains(DumpLocks) {
		for _, l := range locks {
			fmt.Fprintf(w, "%slock %s\n", indentStep, l)
		}
	}
	if f.Contains(DumpEntries) {
		for _, e := range entries {
			fmt.Fprintf(w, "%s%s = %s\n", indentStep, e.Key, e.Value)
		}
	}
}
