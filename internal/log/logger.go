package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is the developer-facing console channel for the whole client.
// Player-visible messages go to the event feed in internal/game instead.
type Logger struct {
	logger *slog.Logger
	file   *os.File
}

var (
	mu           sync.RWMutex
	globalLogger *Logger
	level        = new(slog.LevelVar)

	rawMu   sync.Mutex
	rawFile *os.File
)

// init creates the global logger with console output by default
func init() {
	level.Set(slog.LevelInfo)
	globalLogger = &Logger{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		file:   os.Stderr,
	}
}

// SetLevel changes the minimum level for every logger created by this package.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetDebug toggles debug output.
func SetDebug(on bool) {
	if on {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// SetFileOutput configures the logger to write to the specified file
func SetFileOutput(filename string) error {
	logger, err := NewLogger(filename)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil && globalLogger.file != os.Stderr && globalLogger.file != nil {
		globalLogger.file.Close()
	}
	globalLogger = logger
	return nil
}

// SetOutput points the logger at an arbitrary writer. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil && globalLogger.file != os.Stderr && globalLogger.file != nil {
		globalLogger.file.Close()
	}
	globalLogger = &Logger{logger: slog.New(newHandler(w))}
}

// NewLogger creates a new logger that appends to the specified file
func NewLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", filename, err)
	}

	return &Logger{
		logger: slog.New(newHandler(file)),
		file:   file,
	}, nil
}

func newHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   slog.TimeKey,
					Value: slog.StringValue(a.Value.Time().Format("2006/01/02 15:04:05.000000")),
				}
			}
			return a
		},
	})
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		return nil
	}
	return globalLogger.logger
}

// With returns a child slog.Logger carrying the given attributes, e.g. a component name.
func With(args ...any) *slog.Logger {
	if l := current(); l != nil {
		return l.With(args...)
	}
	return slog.Default().With(args...)
}

// Standard logging methods
func Debug(msg string, args ...any) {
	if l := current(); l != nil {
		l.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if l := current(); l != nil {
		l.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if l := current(); l != nil {
		l.Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if l := current(); l != nil {
		l.Error(msg, args...)
	}
}

// EnableRawLog starts appending every websocket frame to filename.
// An empty filename turns raw logging off.
func EnableRawLog(filename string) error {
	rawMu.Lock()
	defer rawMu.Unlock()
	if rawFile != nil {
		rawFile.Close()
		rawFile = nil
	}
	if filename == "" {
		return nil
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open raw log %s: %w", filename, err)
	}
	rawFile = f
	return nil
}

// LogFrame records a raw frame. direction is "<<" for inbound and ">>" for outbound.
func LogFrame(direction string, data []byte) {
	rawMu.Lock()
	defer rawMu.Unlock()
	if rawFile == nil {
		return
	}
	// %q keeps control characters on one line; the outer quotes are dropped
	encoded := fmt.Sprintf("%q", string(data))
	if len(encoded) >= 2 {
		encoded = encoded[1 : len(encoded)-1]
	}
	fmt.Fprintf(rawFile, "%s %s\n", direction, encoded)
}

// Close closes the log files
func Close() {
	mu.Lock()
	if globalLogger != nil && globalLogger.file != nil && globalLogger.file != os.Stderr {
		globalLogger.file.Close()
		globalLogger.file = nil
	}
	mu.Unlock()
	EnableRawLog("")
}
