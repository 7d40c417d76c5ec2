package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxCachedErrorEntries = 100

// Logger writes wrapper diagnostics to a per-process file under the user
// temp dir. Warn/Error entries are additionally cached in memory so the CLI
// can replay them to stderr after a failed run.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	zl     zerolog.Logger
	path   string

	errorEntries []string
}

// NewLogger creates a log file named <prefix>-<pid>.log in the temp dir.
func NewLogger() (*Logger, error) {
	return newLoggerAtPath(defaultLogPath(""))
}

// NewLoggerWithSuffix creates a log file named <prefix>-<pid>-<suffix>.log.
// The suffix is sanitized for filesystem safety.
func NewLoggerWithSuffix(suffix string) (*Logger, error) {
	return newLoggerAtPath(defaultLogPath(sanitizeLogSuffix(suffix)))
}

func defaultLogPath(suffix string) string {
	name := fmt.Sprintf("%s-%d", PrimaryLogPrefix(), os.Getpid())
	if suffix != "" {
		name += "-" + suffix
	}
	return filepath.Join(os.TempDir(), name+".log")
}

func newLoggerAtPath(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create log file %s: %w", path, err)
	}

	l := &Logger{file: file, path: path}
	l.writer = bufio.NewWriter(file)
	console := zerolog.ConsoleWriter{
		Out:        syncWriter{l},
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}
	l.zl = zerolog.New(console).With().Timestamp().Logger()
	return l, nil
}

// syncWriter serializes zerolog output into the buffered writer.
type syncWriter struct{ l *Logger }

func (w syncWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	if w.l.writer == nil {
		return len(p), nil
	}
	return w.l.writer.Write(p)
}

func (l *Logger) Debug(msg string) { l.log(zerolog.DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.log(zerolog.InfoLevel, msg) }

func (l *Logger) Warn(msg string) {
	l.cacheErrorEntry("WARN", msg)
	l.log(zerolog.WarnLevel, msg)
}

func (l *Logger) Error(msg string) {
	l.cacheErrorEntry("ERROR", msg)
	l.log(zerolog.ErrorLevel, msg)
}

func (l *Logger) log(level zerolog.Level, msg string) {
	if l == nil {
		return
	}
	l.zl.WithLevel(level).Msg(msg)
}

func (l *Logger) cacheErrorEntry(level, msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorEntries = append(l.errorEntries, level+": "+msg)
	if len(l.errorEntries) > maxCachedErrorEntries {
		l.errorEntries = l.errorEntries[len(l.errorEntries)-maxCachedErrorEntries:]
	}
}

// Flush forces buffered entries to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		_ = l.file.Sync()
	}
}

// Close flushes and closes the log file. The file is kept on disk so failed
// runs can be inspected afterwards.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if l.writer != nil {
		_ = l.writer.Flush()
		l.writer = nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RemoveLogFile deletes the log file, typically after a clean run.
func (l *Logger) RemoveLogFile() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ExtractRecentErrors returns up to n of the most recent Warn/Error entries,
// oldest first. Returns nil for n <= 0.
func (l *Logger) ExtractRecentErrors(n int) []string {
	if l == nil || l.path == "" || n <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errorEntries) == 0 {
		return nil
	}
	start := len(l.errorEntries) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(l.errorEntries)-start)
	copy(out, l.errorEntries[start:])
	return out
}

// sanitizeLogSuffix maps an arbitrary string to a filesystem-safe suffix.
// Distinct inputs stay distinct: unsafe runes are hex-escaped rather than
// collapsed.
func sanitizeLogSuffix(raw string) string {
	if raw == "" {
		return "run"
	}
	var sb strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '_':
			sb.WriteRune(r)
		default:
			fmt.Fprintf(&sb, "_%02x", r)
		}
	}
	return sb.String()
}

func SanitizeLogSuffix(raw string) string { return sanitizeLogSuffix(raw) }
