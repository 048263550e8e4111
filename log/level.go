package log

import "strings"

// Level represents the severity of a log event.
// Levels are ordered; a logger only emits events at or above its minimum level.
type Level uint32

const (
	// TraceLevel is for extremely fine-grained diagnostics (per-message paths).
	TraceLevel Level = iota
	// DebugLevel is for development-time diagnostics.
	DebugLevel
	// InfoLevel is for normal operational messages.
	InfoLevel
	// WarnLevel is for recoverable anomalies worth attention.
	WarnLevel
	// ErrorLevel is for failures of individual operations.
	ErrorLevel
	// FatalLevel is for unrecoverable failures; logging at this level panics.
	FatalLevel
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name into a Level. Unknown names map to
// InfoLevel, which is the safe production default.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}
