package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BufferHandler is an slog.Handler that forwards records to a wrapped base
// handler (typically stderr) and captures a formatted copy in a ring buffer.
type BufferHandler struct {
	base   slog.Handler
	buf    *RingBuffer
	attrs  []slog.Attr
	groups []string
}

// NewBufferHandler wraps base with ring-buffer capture.
func NewBufferHandler(base slog.Handler, buf *RingBuffer) *BufferHandler {
	return &BufferHandler{base: base, buf: buf}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)
	h.buf.Append(Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: formatRecord(r, h.attrs, h.groups),
	})
	return err
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferHandler{
		base:   h.base.WithAttrs(attrs),
		buf:    h.buf,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	return &BufferHandler{
		base:   h.base.WithGroup(name),
		buf:    h.buf,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

// formatRecord produces a compact text representation of a log record.
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.String())
		return true
	})

	return b.String()
}
