package log

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/masq"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
)

func init() {
	logger = newLogger(os.Stderr, false)
}

// Configure replaces the global logger. level is one of debug/info/warn/error
// (case insensitive); jsonFormat switches from text to JSON lines.
func Configure(level string, jsonFormat bool, w io.Writer) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}

	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, jsonFormat)
	levelVar.Set(toSlog(l))
	return nil
}

// ParseLevel converts a flag value into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return "", errors.New("unknown log level: " + s)
	}
}

func SetLevel(l Level) {
	levelVar.Set(toSlog(l))
}

// Logger exposes the underlying slog logger for libraries that want one.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	Logger().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	Logger().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	Logger().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	Logger().Error(msg, extended...)
}

func newLogger(w io.Writer, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: levelVar,
		// Secrets in config structs carry `masq:"secret"`.
		ReplaceAttr: masq.New(
			masq.WithTag("secret"),
			masq.WithFieldName("Token"),
			masq.WithFieldName("Password"),
		),
	}

	var h slog.Handler
	if jsonFormat {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
