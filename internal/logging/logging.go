// Package logging provides the process-wide structured logger and the
// optional debug log file used when IKIGAI_LOG_DIR is set.
//
// Structured logging follows the teacher's convention throughout: a
// package-level *slog.Logger configured once at startup and passed down
// through constructors rather than pulled from a global in hot paths.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// New builds the process logger. level is parsed with slog.Level.UnmarshalText
// semantics ("debug", "info", "warn", "error"); unrecognized values fall
// back to info.
func New(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// debugLog is the lazily-opened IKIGAI_LOG_DIR sink, mirroring debug_log.c's
// single module-global FILE*: opened once, truncated on startup, flushed on
// every write so it can be tailed live.
type debugLog struct {
	mu   sync.Mutex
	file io.WriteCloser
}

var global debugLog

// InitDebugLog opens (truncating) "ikigai-debug.log" inside dir. Passing an
// empty dir makes Debug a no-op, matching the source's undefined-g_debug_log
// behavior before ik_debug_log_init runs.
func InitDebugLog(dir string) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if dir == "" {
		global.file = nil
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, "ikigai-debug.log")
	_ = os.Remove(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	global.file = f
	_, _ = io.WriteString(f, "=== IKIGAI DEBUG LOG ===\n")
	return nil
}

// Debug appends one timestamped line to the debug log. It is a silent no-op
// when InitDebugLog was never called or IKIGAI_LOG_DIR is unset, matching
// the tradeoff in spec.md §7: write failures here are never fatal.
func Debug(format string, args ...any) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.file == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	line := ts + " " + fmt.Sprintf(format, args...) + "\n"
	_, _ = io.WriteString(global.file, line)
}
