package log

import "fmt"

// LogCfg represents the logging configuration for the bridge runtime.
// It controls output destinations, rotation strategy and the asynchronous
// write path, and supports hot-reload through the configuration manager.
type LogCfg struct {
	// LogPath specifies the target log file path for file-based logging.
	// Supports relative and absolute paths with automatic directory creation.
	LogPath string `mapstructure:"path"`

	// LogLevelName is the minimum level name ("trace".."fatal").
	// Parsed once into LogLevel; supports hot-reload without restart.
	LogLevelName string `mapstructure:"level"`

	// FileSplitMB determines the file rotation threshold in megabytes.
	FileSplitMB int `mapstructure:"splitmb"`

	// IsAsync enables asynchronous log writing to keep the message hot path
	// free of file I/O. Recommended when the bridge runs on a UI-adjacent
	// thread budget.
	IsAsync bool `mapstructure:"isasync"`

	// AsyncCacheSize limits the maximum buffered log entries in async mode.
	// Default: 1024 entries when async mode is enabled.
	AsyncCacheSize int `mapstructure:"asynccachesize"`

	// AsyncWriteMillSec defines the async flush interval in milliseconds.
	// Default: 200ms.
	AsyncWriteMillSec int `mapstructure:"asyncwritemillsec"`

	// CallerSkip specifies extra stack frames to skip for caller information.
	// Useful for wrapper functions layered above this package.
	CallerSkip int `mapstructure:"callerSkip"`

	// FileAppender enables file-based logging output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables console (stdout) logging output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// EnabledCallerInfo captures file/function/line for every event.
	// Costs a runtime.Caller lookup per event (amortized by a cache).
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName implements the config.Config interface.
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate implements the config.Config interface.
func (cfg *LogCfg) Validate() error {
	if cfg.FileAppender && cfg.LogPath == "" {
		return fmt.Errorf("logger: file appender enabled but path is empty")
	}
	if cfg.FileSplitMB < 0 {
		return fmt.Errorf("logger: splitmb must be >= 0")
	}
	return nil
}

// Level returns the parsed minimum level.
func (cfg *LogCfg) Level() Level {
	if cfg.LogLevelName == "" {
		return DebugLevel
	}
	return ParseLevel(cfg.LogLevelName)
}

var _defaultCfg = &LogCfg{
	LogPath:         "./gamebridge.log",
	LogLevelName:    "debug",
	FileSplitMB:     50,
	IsAsync:         true,
	CallerSkip:      1,
	FileAppender:    false,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
