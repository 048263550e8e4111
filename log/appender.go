package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogAppender is the output sink abstraction of the logging system.
// A logger writes every finished event to each of its appenders in order.
type LogAppender interface {
	// Write outputs one serialized log line. Implementations must copy the
	// slice if they retain it; the buffer is recycled after the call returns.
	Write(p []byte)

	// Refresh re-applies configuration (reopens files, flushes buffers).
	Refresh()
}

// ConsoleAppender writes log lines to stdout. Safe for concurrent use.
type ConsoleAppender struct {
	mu sync.Mutex
}

// NewConsoleAppender creates a console appender.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

// Write outputs the line to stdout.
func (a *ConsoleAppender) Write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = os.Stdout.Write(p)
}

// Refresh is a no-op for the console.
func (a *ConsoleAppender) Refresh() {}

// FileAppender writes log lines to a file with size-based rotation and an
// optional asynchronous write path for latency-sensitive callers.
type FileAppender struct {
	mu       sync.Mutex
	path     string
	splitMB  int
	file     *os.File
	written  int64
	async    bool
	pending  chan []byte
	stopOnce sync.Once
	stop     chan struct{}
}

// NewFileAppender creates a file appender from the logger configuration.
// When cfg.IsAsync is set, writes are queued on a bounded channel and flushed
// by a background goroutine; lines are dropped (never blocking the caller)
// if the queue is full.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{
		path:    cfg.LogPath,
		splitMB: cfg.FileSplitMB,
		async:   cfg.IsAsync,
		stop:    make(chan struct{}),
	}
	if a.splitMB <= 0 {
		a.splitMB = 50
	}
	if a.async {
		cache := cfg.AsyncCacheSize
		if cache <= 0 {
			cache = 1024
		}
		interval := time.Duration(cfg.AsyncWriteMillSec) * time.Millisecond
		if interval <= 0 {
			interval = 200 * time.Millisecond
		}
		a.pending = make(chan []byte, cache)
		go a.drainLoop(interval)
	}
	return a
}

// Write outputs one line, either directly or through the async queue.
func (a *FileAppender) Write(p []byte) {
	if a.async {
		line := make([]byte, len(p))
		copy(line, p)
		select {
		case a.pending <- line:
		default:
			// Queue full: dropping is preferable to stalling the caller.
		}
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writeLocked(p)
}

// Refresh closes the current file so the next write reopens it.
// Used after external rotation or configuration changes.
func (a *FileAppender) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
		a.written = 0
	}
}

// Close stops the async drain goroutine and closes the file.
func (a *FileAppender) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.Refresh()
}

func (a *FileAppender) drainLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case line := <-a.pending:
			a.mu.Lock()
			a.writeLocked(line)
			a.mu.Unlock()
		case <-ticker.C:
			a.flushPending()
		case <-a.stop:
			a.flushPending()
			return
		}
	}
}

func (a *FileAppender) flushPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		select {
		case line := <-a.pending:
			a.writeLocked(line)
		default:
			return
		}
	}
}

func (a *FileAppender) writeLocked(p []byte) {
	if a.file == nil {
		if err := a.openLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "log: open %s failed: %v\n", a.path, err)
			return
		}
	}
	n, err := a.file.Write(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: write %s failed: %v\n", a.path, err)
		return
	}
	a.written += int64(n)
	if a.written >= int64(a.splitMB)*1024*1024 {
		a.rotateLocked()
	}
}

func (a *FileAppender) openLocked() error {
	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err == nil {
		a.written = info.Size()
	}
	a.file = f
	return nil
}

func (a *FileAppender) rotateLocked() {
	_ = a.file.Close()
	a.file = nil
	rotated := fmt.Sprintf("%s.%s", a.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(a.path, rotated); err != nil {
		fmt.Fprintf(os.Stderr, "log: rotate %s failed: %v\n", a.path, err)
	}
	a.written = 0
}
