// Package obslog provides the structured logging handler used across the
// rating engine's long-lived components. Adapted from the teacher's
// loghandler.CompactHandler: same timestamp + bracketed tag + key=value
// line shape, extended with a level prefix so worker/error output stays
// distinguishable in multi-process deployments.
package obslog

import (
	"context"
	"io"
	"log/slog"
)

const timeFormat = "2006/01/02 15:04:05"

const tagKey = "tag"

// CompactHandler writes logs as: 2006/01/02 15:04:05 [LEVEL] [tag] message key=value ...
// The "tag" attribute is rendered as a bracketed prefix and omitted from the
// trailing key=value list, exactly as in the teacher's handler; the level
// prefix is the one addition, needed because this codebase runs multiple
// long-lived processes (server, worker) whose logs interleave.
type CompactHandler struct {
	w     io.Writer
	level slog.Level
}

// New returns a handler that writes to w with minimum level.
func New(w io.Writer, level slog.Level) *CompactHandler {
	return &CompactHandler{w: w, level: level}
}

func (h *CompactHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *CompactHandler) Handle(_ context.Context, r slog.Record) error {
	var tag string
	rest := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == tagKey {
			if a.Value.Kind() == slog.KindString {
				tag = a.Value.String()
			}
			return true
		}
		rest = append(rest, a)
		return true
	})

	buf := make([]byte, 0, 256)
	buf = append(buf, r.Time.Format(timeFormat)...)
	buf = append(buf, ' ', '[')
	buf = append(buf, r.Level.String()...)
	buf = append(buf, ']', ' ')
	if tag != "" {
		buf = append(buf, '[')
		buf = append(buf, tag...)
		buf = append(buf, "] "...)
	}
	buf = append(buf, r.Message...)
	for _, a := range rest {
		buf = append(buf, ' ')
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = append(buf, a.Value.String()...)
	}
	buf = append(buf, '\n')

	_, err := h.w.Write(buf)
	return err
}

// WithAttrs is a no-op beyond returning the same handler, matching the
// teacher's simplifying choice not to pre-merge attributes.
func (h *CompactHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *CompactHandler) WithGroup(name string) slog.Handler { return h }

// Tag returns a slog.Attr for the component tag convention used throughout
// this codebase (tag=server, tag=worker, tag=migrate, tag=httpapi, tag=livefeed).
func Tag(component string) slog.Attr {
	return slog.String(tagKey, component)
}
