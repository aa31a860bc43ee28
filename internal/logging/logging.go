// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// New returns a logger writing to w. format "json" selects slog's JSON
// handler; "text" or "" selects tint, colored only when w is a terminal.
func New(w io.Writer, level, format string) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	ll := &slog.LevelVar{}
	ll.Set(lvl)

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ll})), ll, nil
	case "text", "":
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", format)
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	h := tint.NewHandler(w, &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Empty SQL params add noise to statement logs.
			if a.Key == "params" && a.Value.Kind() == slog.KindAny {
				if p, ok := a.Value.Any().([]any); ok && len(p) == 0 {
					return slog.Attr{}
				}
			}
			return a
		},
	})
	return slog.New(h), ll, nil
}
