package log

import "strings"

// Logger is a leveled, structured logger.
// keysAndValues are alternating key-value pairs ("account", id, "amount", amt).
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs and terminates the process for implementations that support it.
	Fatal(msg string, keysAndValues ...any)

	// WithKV returns a logger that adds key and value to every message.
	WithKV(key string, value any) Logger
	// GetAllKV returns the persistent pairs added through WithKV.
	GetAllKV() []any
	// WithName returns a logger for the named subsystem. Names nest with dots.
	WithName(name string) Logger
	Name() string
	// AddCallerSkip skips extra stack frames when reporting the caller.
	AddCallerSkip(skip int) Logger
}

// Level is the severity of a log message.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ParseLevel maps a case-insensitive level name to a Level, falling back to
// LevelInfo for anything unknown.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return l
	default:
		return LevelInfo
	}
}
