package log

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/gamebridge/config"
)

// BridgeLogger provides a thread-safe logging implementation with
// configurable appenders and structured field output. It is designed for the
// bridge's message hot path, where an embedded engine may emit thousands of
// events per second: disabled levels cost one atomic load, and enabled events
// are pooled to minimize garbage collection pressure.
//
// Example usage:
//
//	logger := NewLogger(&LogCfg{LogLevelName: "info", ConsoleAppender: true})
//	logger.Info().Str("target", "GameManager").Int("pending", 3).Msg("flush")
type BridgeLogger struct {
	appenders         []LogAppender
	minLevel          atomic.Uint32
	callerSkip        int
	eventPool         *sync.Pool
	callerCache       sync.Map
	enabledCallerInfo bool
	configMutex       sync.RWMutex
	currentConfig     *LogCfg
}

// NewLogger creates a new BridgeLogger instance with the provided
// configuration. If cfg is nil, the package defaults are used.
func NewLogger(cfg *LogCfg) *BridgeLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &BridgeLogger{
		callerSkip:        cfg.CallerSkip,
		enabledCallerInfo: cfg.EnabledCallerInfo,
		currentConfig:     cfg,
	}
	logger.minLevel.Store(uint32(cfg.Level()))

	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}

	return logger
}

// NewLoggerWithConfigManager creates a logger that follows configuration
// hot reloads published by the given manager.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *BridgeLogger {
	logger := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

// OnConfigChanged implements config.ConfigChangeListener for hot-reload.
// Only the minimum level, caller capture flag and caller skip are applied
// live; appender topology changes require a new logger.
func (x *BridgeLogger) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != "logger" {
		return nil
	}
	newCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}

	x.configMutex.Lock()
	x.minLevel.Store(uint32(newCfg.Level()))
	x.callerSkip = newCfg.CallerSkip
	x.enabledCallerInfo = newCfg.EnabledCallerInfo
	x.currentConfig = newCfg
	x.configMutex.Unlock()

	x.Refresh()
	return nil
}

// GetCurrentConfig returns the configuration currently in effect.
func (x *BridgeLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

// checkLevel reports whether the given level should be emitted.
func (x *BridgeLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// SetLevel adjusts the minimum level at runtime.
func (x *BridgeLogger) SetLevel(level Level) {
	x.minLevel.Store(uint32(level))
}

// AddAppender adds a new log appender to the logger. Multiple appenders can
// be attached; every finished event is written to each in registration order.
func (x *BridgeLogger) AddAppender(appender LogAppender) {
	x.appenders = append(x.appenders, appender)
}

// GetAppender returns the appenders currently registered with the logger.
func (x *BridgeLogger) GetAppender() []LogAppender {
	return x.appenders
}

// Refresh triggers a refresh operation on all registered appenders.
func (x *BridgeLogger) Refresh() {
	for _, appender := range x.appenders {
		appender.Refresh()
	}
}

// IgnoreCheckLevel reports whether level filtering is bypassed.
// Always false for BridgeLogger.
func (x *BridgeLogger) IgnoreCheckLevel() bool {
	return false
}

func (x *BridgeLogger) newEvent() *LogEvent {
	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	return e
}

// OnEventEnd writes the finished event to every appender and returns it to
// the pool. A FatalLevel event panics after being written.
func (x *BridgeLogger) OnEventEnd(e *LogEvent) {
	for _, appender := range x.appenders {
		appender.Write(e.buf.Bytes())
	}

	level := e.level
	x.eventPool.Put(e)

	if level == FatalLevel {
		panic("fatal log event")
	}
}

// Trace creates a new trace-level log event, or nil when disabled.
func (x *BridgeLogger) Trace() *LogEvent {
	return x.log(TraceLevel)
}

// Debug creates a new debug-level log event, or nil when disabled.
func (x *BridgeLogger) Debug() *LogEvent {
	return x.log(DebugLevel)
}

// Info creates a new info-level log event, or nil when disabled.
func (x *BridgeLogger) Info() *LogEvent {
	return x.log(InfoLevel)
}

// Warn creates a new warn-level log event, or nil when disabled.
func (x *BridgeLogger) Warn() *LogEvent {
	return x.log(WarnLevel)
}

// Error creates a new error-level log event, or nil when disabled.
func (x *BridgeLogger) Error() *LogEvent {
	return x.log(ErrorLevel)
}

// Fatal creates a new fatal-level log event. The event panics once finished.
func (x *BridgeLogger) Fatal() *LogEvent {
	return x.log(FatalLevel)
}

type callerInfo struct {
	repr string
}

var _unknownCallerInfo = &callerInfo{repr: "unknown:0"}

// getCallerInfo resolves the logging call site, caching per program counter
// since the same call sites fire repeatedly on the message hot path.
func (x *BridgeLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return _unknownCallerInfo
	}

	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}

	// Trim to the last two path segments; full module paths add noise.
	if len(file) > 0 {
		lastSlash := strings.LastIndexByte(file, '/')
		if lastSlash > 0 {
			secondLastSlash := strings.LastIndexByte(file[:lastSlash], '/')
			if secondLastSlash >= 0 {
				file = file[secondLastSlash+1:]
			}
		}
	}

	c := &callerInfo{repr: file + ":" + strconv.Itoa(line)}
	x.callerCache.Store(pc, c)
	return c
}

// log prepares a new event with the common fields (time, level, caller).
// Returns nil when the level is below the configured threshold; LogEvent
// methods are nil-safe, so call sites need no guards.
func (x *BridgeLogger) log(level Level) *LogEvent {
	if !x.checkLevel(level) {
		return nil
	}

	e := x.newEvent()
	e.level = level

	t := time.Now()
	e.Time("time", &t)
	e.Str("level", level.String())

	if x.enabledCallerInfo {
		e.Str("caller", x.getCallerInfo().repr)
	}

	return e
}
