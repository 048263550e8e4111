package log

import (
	"github.com/lcx/gamebridge/config"
)

// Logger is the minimal contract the event builder needs from its owner.
type Logger interface {
	Trace() *LogEvent
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	IgnoreCheckLevel() bool
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger *BridgeLogger

func init() {
	_defaultLogger = NewLogger(nil)
}

// AddAppender adds a new log appender to the default logger.
// This is a convenience function for the package-level default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.AddAppender(appender)
}

// Refresh triggers a refresh operation on all appenders of the default logger.
func Refresh() {
	_defaultLogger.Refresh()
}

// SetDefaultLogger replaces the default logger with a custom instance.
// This allows global configuration of the package-level logging functions.
func SetDefaultLogger(logger *BridgeLogger) {
	_defaultLogger = logger
}

// Default returns the current package-level logger.
func Default() *BridgeLogger {
	return _defaultLogger
}

// InitializeWithConfigManager initializes the default logger from the given
// configuration manager and subscribes it to hot reloads.
//
// Returns:
//   - Error if configuration loading fails, nil otherwise
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := &LogCfg{}
	if err := configManager.LoadConfig("logger", logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Initialize initializes the default logger using the singleton ConfigManager
// instance.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// Trace creates a new trace-level log event using the default logger.
func Trace() *LogEvent {
	return _defaultLogger.Trace()
}

// Debug creates a new debug-level log event using the default logger.
func Debug() *LogEvent {
	return _defaultLogger.Debug()
}

// Info creates a new info-level log event using the default logger.
func Info() *LogEvent {
	return _defaultLogger.Info()
}

// Warn creates a new warn-level log event using the default logger.
func Warn() *LogEvent {
	return _defaultLogger.Warn()
}

// Error creates a new error-level log event using the default logger.
func Error() *LogEvent {
	return _defaultLogger.Error()
}

// Fatal creates a new fatal-level log event using the default logger.
func Fatal() *LogEvent {
	return _defaultLogger.Fatal()
}
