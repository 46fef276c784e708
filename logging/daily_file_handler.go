// Package logging provides the process-wide slog handler: human-readable
// lines teed to stdout and to a log file rotated once per day.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const filePrefix = "retriever"

// fileState is shared across handler clones produced by WithAttrs/WithGroup
// so they all write to the same rotated file.
type fileState struct {
	mu          sync.Mutex
	logDir      string
	current     *os.File
	currentName string
}

type DailyFileHandler struct {
	state   *fileState
	console slog.Handler
}

func NewDailyFileHandler(logDir string, opts *slog.HandlerOptions) (*DailyFileHandler, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	h := &DailyFileHandler{
		state:   &fileState{logDir: logDir},
		console: slog.NewTextHandler(os.Stdout, opts),
	}
	if err := h.state.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *fileState) rotateIfNeeded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileName := fmt.Sprintf("%s-%s.log", filePrefix, time.Now().Format("2006-01-02"))
	if fileName == s.currentName {
		return nil
	}

	if s.current != nil {
		s.current.Close()
	}

	f, err := os.OpenFile(filepath.Join(s.logDir, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	s.current = f
	s.currentName = fileName
	return nil
}

func (s *fileState) write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.current.WriteString(line)
	return err
}

func (h *DailyFileHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.state.rotateIfNeeded(); err != nil {
		// Rotation failure must not lose the record: fall back to stdout.
		return h.console.Handle(ctx, r)
	}

	var attrs string
	r.Attrs(func(a slog.Attr) bool {
		attrs += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	line := fmt.Sprintf("[%s] %-5s %s%s\n",
		r.Time.Format("2006/01/02 15:04:05.000"), r.Level.String(), r.Message, attrs)

	err := h.state.write(line)
	if err2 := h.console.Handle(ctx, r); err2 != nil && err == nil {
		err = err2
	}
	return err
}

func (h *DailyFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DailyFileHandler{state: h.state, console: h.console.WithAttrs(attrs)}
}

func (h *DailyFileHandler) WithGroup(name string) slog.Handler {
	return &DailyFileHandler{state: h.state, console: h.console.WithGroup(name)}
}

func (h *DailyFileHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level)
}
