package log

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureAppender records every line written to it.
type captureAppender struct {
	mu    sync.Mutex
	lines []string
}

func (a *captureAppender) Write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, string(p))
}

func (a *captureAppender) Refresh() {}

func (a *captureAppender) last(t *testing.T) map[string]any {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.lines) == 0 {
		t.Fatal("no log lines captured")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(a.lines[len(a.lines)-1]), &m); err != nil {
		t.Fatalf("log line is not valid JSON: %v\nline: %s", err, a.lines[len(a.lines)-1])
	}
	return m
}

func newTestLogger(level Level) (*BridgeLogger, *captureAppender) {
	logger := NewLogger(&LogCfg{LogLevelName: level.String()})
	cap := &captureAppender{}
	logger.AddAppender(cap)
	return logger, cap
}

func TestLoggerFields(t *testing.T) {
	logger, cap := newTestLogger(DebugLevel)

	logger.Info().
		Str("target", "GameManager").
		Int("pending", 7).
		Bool("ready", true).
		Float64("ratio", 0.5).
		Dur("elapsed", 150*time.Millisecond).
		Msg("flush complete")

	m := cap.last(t)
	if m["level"] != "info" {
		t.Errorf("level = %v, want info", m["level"])
	}
	if m["target"] != "GameManager" {
		t.Errorf("target = %v", m["target"])
	}
	if m["pending"] != float64(7) {
		t.Errorf("pending = %v", m["pending"])
	}
	if m["ready"] != true {
		t.Errorf("ready = %v", m["ready"])
	}
	if m["msg"] != "flush complete" {
		t.Errorf("msg = %v", m["msg"])
	}
	if _, ok := m["time"]; !ok {
		t.Error("missing time field")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, cap := newTestLogger(WarnLevel)

	if e := logger.Debug(); e != nil {
		t.Error("Debug() should return nil below min level")
	}
	// nil事件上的方法调用必须安全
	logger.Debug().Str("k", "v").Msg("suppressed")
	logger.Info().Msg("suppressed too")

	cap.mu.Lock()
	n := len(cap.lines)
	cap.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected 0 lines, got %d", n)
	}

	logger.Warn().Msg("visible")
	m := cap.last(t)
	if m["level"] != "warn" {
		t.Errorf("level = %v, want warn", m["level"])
	}
}

func TestLoggerSetLevel(t *testing.T) {
	logger, cap := newTestLogger(ErrorLevel)
	logger.Info().Msg("hidden")
	logger.SetLevel(InfoLevel)
	logger.Info().Msg("shown")

	m := cap.last(t)
	if m["msg"] != "shown" {
		t.Errorf("msg = %v", m["msg"])
	}
}

func TestLoggerErrField(t *testing.T) {
	logger, cap := newTestLogger(DebugLevel)

	logger.Error().Err(errTest).Msg("boom")
	m := cap.last(t)
	if m["error"] != "test failure" {
		t.Errorf("error = %v", m["error"])
	}

	// nil error写入时应当被省略
	logger.Error().Err(nil).Msg("no error field")
	m = cap.last(t)
	if _, ok := m["error"]; ok {
		t.Error("nil error must not emit a field")
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test failure" }

func TestLoggerAny(t *testing.T) {
	logger, cap := newTestLogger(DebugLevel)
	logger.Info().Any("payload", map[string]any{"x": 1}).Msg("json")
	m := cap.last(t)
	payload, ok := m["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", m["payload"])
	}
	if payload["x"] != float64(1) {
		t.Errorf("payload.x = %v", payload["x"])
	}
}

func TestLoggerStringEscaping(t *testing.T) {
	logger, cap := newTestLogger(DebugLevel)
	logger.Info().Str("data", `quote " and \ backslash`).Msg("escaped")
	m := cap.last(t)
	if !strings.Contains(m["data"].(string), `quote " and \ backslash`) {
		t.Errorf("data round-trip failed: %v", m["data"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"trace", TraceLevel},
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"Error", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFatalPanics(t *testing.T) {
	logger, _ := newTestLogger(DebugLevel)
	defer func() {
		if recover() == nil {
			t.Error("Fatal().Msg must panic")
		}
	}()
	logger.Fatal().Msg("going down")
}

func BenchmarkDisabledLevel(b *testing.B) {
	logger, _ := newTestLogger(ErrorLevel)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Debug().Str("k", "v").Int("n", i).Msg("suppressed")
	}
}

func BenchmarkEnabledLevel(b *testing.B) {
	logger := NewLogger(&LogCfg{LogLevelName: "debug"})
	logger.AddAppender(discardAppender{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info().Str("k", "v").Int("n", i).Msg("emitted")
	}
}

type discardAppender struct{}

func (discardAppender) Write([]byte) {}
func (discardAppender) Refresh()     {}
