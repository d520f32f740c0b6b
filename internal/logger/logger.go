// Package logger provides leveled key=value logging for the locale translator.
// Every entry is one line; it goes to a size-rotated file, to stderr, or both.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents the severity level of a log message
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the upper-case level name
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config value such as "debug" or "WARN" to a Level.
// An empty value means LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Field is one key=value pair of an entry. Fields with a nil Value are skipped.
type Field struct {
	Key   string
	Value interface{}
}

func String(key string, value string) Field { return Field{Key: key, Value: value} }

// Strings renders a list as [a,b,c]
func Strings(key string, values []string) Field {
	return Field{Key: key, Value: "[" + strings.Join(values, ",") + "]"}
}

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err creates an error field. A nil error produces a field that is not written.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger defines the logging interface
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	SetLevel(level Level)
	Close() error
}

// Config holds the configuration for the logger
type Config struct {
	// LogFilePath is the path to the log file. Empty disables file output.
	LogFilePath string
	// MaxFileSize is the size in bytes past which the file is rotated. Zero never rotates.
	MaxFileSize int64
	// MaxBackups is how many rotated files (path.1 newest) are kept
	MaxBackups int
	// Level is the minimum level written
	Level Level
	// EnableConsole mirrors entries to stderr
	EnableConsole bool
}

// DefaultLogger writes entries to an optional rotating file and an optional console.
type DefaultLogger struct {
	mu      sync.Mutex
	config  Config
	level   Level
	file    *os.File
	written int64 // bytes in the live file
	console io.Writer
	stamp   string
}

// NewDefaultLogger opens the log file of config, creating its directory.
func NewDefaultLogger(config *Config) (*DefaultLogger, error) {
	if config == nil {
		config = &Config{Level: LevelInfo, EnableConsole: true}
	}

	l := &DefaultLogger{
		config: *config,
		level:  config.Level,
		stamp:  "2006-01-02 15:04:05.000",
	}
	if config.EnableConsole {
		l.console = os.Stderr
	}
	if config.LogFilePath == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.LogFilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := l.reopen(); err != nil {
		return nil, err
	}
	return l, nil
}

// reopen opens the log file for appending and picks up its current size.
func (l *DefaultLogger) reopen() error {
	f, err := os.OpenFile(l.config.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	l.file, l.written = f, info.Size()
	return nil
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, nil, fields) }

func (l *DefaultLogger) Info(msg string, fields ...Field) { l.log(LevelInfo, msg, nil, fields) }

func (l *DefaultLogger) Warn(msg string, fields ...Field) { l.log(LevelWarn, msg, nil, fields) }

// Error logs msg with err rendered as the first field.
func (l *DefaultLogger) Error(msg string, err error, fields ...Field) {
	l.log(LevelError, msg, err, fields)
}

func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Close closes the log file. The console, if any, keeps working.
func (l *DefaultLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *DefaultLogger) log(level Level, msg string, err error, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level || (l.file == nil && l.console == nil) {
		return
	}

	line := []byte(l.format(level, msg, err, fields))

	if l.file != nil {
		if max := l.config.MaxFileSize; max > 0 && l.written+int64(len(line)) > max {
			if rerr := l.rotate(); rerr != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", rerr)
			}
		}
	}
	if l.file != nil {
		n, _ := l.file.Write(line)
		l.written += int64(n)
	}
	if l.console != nil {
		l.console.Write(line)
	}
}

func (l *DefaultLogger) format(level Level, msg string, err error, fields []Field) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s", time.Now().Format(l.stamp), level, msg)
	if err != nil {
		sb.WriteString(" error=")
		sb.WriteString(strconv.Quote(err.Error()))
	}
	for _, f := range fields {
		if f.Value == nil {
			continue
		}
		sb.WriteString(" " + f.Key + "=" + formatValue(f.Value))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// formatValue quotes values that would break key=value parsing.
func formatValue(v interface{}) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func backupName(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}

// rotate turns the live file into path.1, ages older backups by one and
// opens a fresh file. With MaxBackups of zero the live file is discarded.
func (l *DefaultLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	l.file = nil

	path, keep := l.config.LogFilePath, l.config.MaxBackups
	if keep < 1 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return l.reopen()
	}

	os.Remove(backupName(path, keep))
	for n := keep - 1; n >= 1; n-- {
		os.Rename(backupName(path, n), backupName(path, n+1))
	}
	if err := os.Rename(path, backupName(path, 1)); err != nil && !os.IsNotExist(err) {
		// keep logging into the old file rather than losing entries
		l.reopen()
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return l.reopen()
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// Init replaces the global logger, closing the previous one.
func Init(config *Config) error {
	l, err := NewDefaultLogger(config)
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return nil
}

// GetLogger returns the global logger instance, a no-op logger before Init
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return noopLogger{}
	}
	return globalLogger
}

// Close closes the global logger; later calls log nowhere until the next Init.
func Close() error {
	globalMu.Lock()
	l := globalLogger
	globalLogger = nil
	globalMu.Unlock()

	if l == nil {
		return nil
	}
	return l.Close()
}

func Debug(msg string, fields ...Field) { GetLogger().Debug(msg, fields...) }

func Info(msg string, fields ...Field) { GetLogger().Info(msg, fields...) }

func Warn(msg string, fields ...Field) { GetLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) { GetLogger().Error(msg, err, fields...) }

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field)        {}
func (noopLogger) Info(string, ...Field)         {}
func (noopLogger) Warn(string, ...Field)         {}
func (noopLogger) Error(string, error, ...Field) {}
func (noopLogger) SetLevel(Level)                {}
func (noopLogger) Close() error                  { return nil }
