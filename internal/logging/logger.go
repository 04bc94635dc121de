package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger appends timestamped lines to a run's log file so a run can be
// inspected after the process exits. A nil *Logger is safe to use and
// discards everything, which is how quiet workers are configured. There is
// no process-wide verbosity flag.
type Logger struct {
	file *os.File
	echo io.Writer
}

// New creates (or reuses) the log file inside dir.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(dir, "run.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// WithEcho mirrors every line to w (normally os.Stderr) in addition to the file.
func (l *Logger) WithEcho(w io.Writer) *Logger {
	if l == nil {
		return nil
	}
	l.echo = w
	return l
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
	if l.echo != nil {
		fmt.Fprintln(l.echo, line)
	}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
