package confdb

import (
	"log/slog"
	"strings"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func pathsAttr(key string, prefix string, rel []string) slog.Attr {
	if len(rel) == 1 {
		return slog.String(key, prefix+rel[0])
	}
	return slog.String(key, prefix+"{"+strings.Join(rel, ",")+"}")
}
