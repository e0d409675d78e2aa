// Package logging provides the gateway's structured logger: a log/slog
// handler whose Handle method never blocks the caller on disk I/O. Records
// are pushed onto a bounded queue (internal/queue) and drained by a single
// background goroutine, the Go rendering of the original server's
// Logger.cpp + SafeQueue<LogEvent> async logging design.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dbbouncer/gateway/internal/queue"
)

const queueCapacity = 10000

type record struct {
	line string
}

// AsyncHandler is a slog.Handler backed by a bounded queue and a single
// writer goroutine.
type AsyncHandler struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	group   string
	q       *queue.Queue[record]
	out     io.Writer
	minLvl  slog.Leveler
	done    chan struct{}
	dropped bool
}

// NewAsyncHandler opens (creating if necessary) the file at path and
// returns a handler that writes to it asynchronously, plus a Close func
// the caller must invoke during shutdown to flush and release the file.
func NewAsyncHandler(path string, level slog.Leveler) (*AsyncHandler, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: opening %s: %w", path, err)
	}

	h := &AsyncHandler{
		q:      queue.New[record](queueCapacity),
		out:    f,
		minLvl: level,
		done:   make(chan struct{}),
	}

	go h.drain()

	closeFn := func() error {
		h.q.Stop()
		<-h.done
		return f.Close()
	}
	return h, closeFn, nil
}

func (h *AsyncHandler) drain() {
	defer close(h.done)
	for {
		rec, ok := h.q.Pop()
		if !ok {
			return
		}
		io.WriteString(h.out, rec.line)
	}
}

// Enabled implements slog.Handler.
func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.minLvl == nil {
		return true
	}
	return level >= h.minLvl.Level()
}

// Handle implements slog.Handler. It formats the record synchronously (the
// original design buffers formatted log lines, not raw event structs) and
// pushes the line onto the bounded queue; if the queue has been stopped
// the line is written synchronously to stderr instead of being dropped
// silently.
func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	line := formatLine(r, h.attrsSnapshot(), h.group)
	if !h.q.Push(record{line: line}) {
		fmt.Fprint(os.Stderr, line)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	clone := *h
	if clone.group == "" {
		clone.group = name
	} else {
		clone.group = clone.group + "." + name
	}
	return &clone
}

func (h *AsyncHandler) attrsSnapshot() []slog.Attr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Attr{}, h.attrs...)
}

func formatLine(r slog.Record, attrs []slog.Attr, group string) string {
	ts := r.Time.Format(time.RFC3339)
	line := fmt.Sprintf("%s [%s] %s", ts, r.Level.String(), r.Message)
	for _, a := range attrs {
		line += fmt.Sprintf(" %s=%v", qualify(group, a.Key), a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", qualify(group, a.Key), a.Value.Any())
		return true
	})
	return line + "\n"
}

func qualify(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// New builds the process-wide logger: log lines go to the async file sink
// and, for operator convenience during local runs, are not duplicated to
// stdout or any other sink at once.
func New(path string) (*slog.Logger, func() error, error) {
	h, closeFn, err := NewAsyncHandler(path, slog.LevelInfo)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(h), closeFn, nil
}
