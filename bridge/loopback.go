package bridge

import (
	"context"
	"sync"

	"github.com/lcx/gamebridge/plugin"
)

// SentRecord is one payload captured by the loopback transport.
type SentRecord struct {
	Target  string
	Method  string
	Payload []byte
}

// LoopbackTransport is an in-memory Transport. It records every send and
// optionally fails on demand. Used by tests and by embedders that run the
// engine in-process.
type LoopbackTransport struct {
	mu      sync.Mutex
	sent    []SentRecord
	failErr error
	maxKept int
}

// NewLoopbackTransport creates a loopback keeping at most maxKept records
// (0 means unbounded).
func NewLoopbackTransport(maxKept int) *LoopbackTransport {
	return &LoopbackTransport{maxKept: maxKept}
}

// SendRaw records the payload, or returns the configured failure.
func (t *LoopbackTransport) SendRaw(_ context.Context, target, method string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return t.failErr
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	t.sent = append(t.sent, SentRecord{Target: target, Method: method, Payload: buf})
	if t.maxKept > 0 && len(t.sent) > t.maxKept {
		t.sent = t.sent[len(t.sent)-t.maxKept:]
	}
	return nil
}

// FailWith makes subsequent sends return err. Pass nil to restore success.
func (t *LoopbackTransport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failErr = err
}

// Sent returns a copy of the captured records.
func (t *LoopbackTransport) Sent() []SentRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentRecord, len(t.sent))
	copy(out, t.sent)
	return out
}

// Reset discards the captured records.
func (t *LoopbackTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// FactoryName implements plugin.Plugin.
func (t *LoopbackTransport) FactoryName() string { return "loopback" }

// loopbackFactory exposes the loopback transport through the plugin system
// so embedders can configure it like any other transport adapter.
type loopbackFactory struct{}

func (f *loopbackFactory) Type() plugin.Type { return plugin.Transport }
func (f *loopbackFactory) Name() string      { return "loopback" }

func (f *loopbackFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	maxKept := 0
	if n, ok := v["maxKept"].(int); ok {
		maxKept = n
	}
	return NewLoopbackTransport(maxKept), nil
}

func (f *loopbackFactory) Destroy(p plugin.Plugin, _ any) error {
	if t, ok := p.(*LoopbackTransport); ok {
		t.Reset()
	}
	return nil
}

func (f *loopbackFactory) Reload(p plugin.Plugin, v map[string]any) error {
	t, ok := p.(*LoopbackTransport)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := v["maxKept"].(int); ok {
		t.maxKept = n
	}
	return nil
}

func (f *loopbackFactory) CanDelete(plugin.Plugin) bool { return true }

func init() {
	plugin.RegisterPlugin(&loopbackFactory{})
}
