package bridge

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/lcx/gamebridge/codec"
	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/metrics"
)

const defaultEventBufferCap = 100

// Inbound rate limiting algorithms. Token allows bursts up to TokenBurst;
// funnel spaces events evenly, which paces per-frame engine traffic more
// deterministically.
const (
	RecvLimiterToken  = "token"
	RecvLimiterFunnel = "funnel"
)

// DispatcherCfg tunes the inbound event dispatcher.
type DispatcherCfg struct {
	// RecvRateLimit caps inbound events per second. Supports hot reload.
	RecvRateLimit int `mapstructure:"recvRateLimit"`
	// TokenBurst is the token bucket burst size. Ignored by the funnel
	// limiter.
	TokenBurst int `mapstructure:"tokenBurst"`
	// RecvLimiterType selects the limiting algorithm, "token" (default) or
	// "funnel".
	RecvLimiterType string `mapstructure:"recvLimiterType"`
	// BufferCapacity bounds the pre-ready event buffer. Oldest events are
	// dropped on overflow.
	BufferCapacity int `mapstructure:"bufferCapacity"`
}

// Validate checks the dispatcher configuration.
func (c *DispatcherCfg) Validate() error {
	if c.RecvRateLimit <= 0 {
		return fmt.Errorf("RecvRateLimit must be positive")
	}
	if c.TokenBurst <= 0 {
		return fmt.Errorf("TokenBurst must be positive")
	}
	if c.RecvRateLimit > 1000000 {
		return fmt.Errorf("RecvRateLimit cannot exceed 1,000,000 events per second")
	}
	switch c.RecvLimiterType {
	case "", RecvLimiterToken, RecvLimiterFunnel:
	default:
		return fmt.Errorf("unknown RecvLimiterType %q", c.RecvLimiterType)
	}
	return nil
}

// EventDispatcher is the inbound half of the bridge. The platform layer
// feeds it raw (kind, payload) events; the dispatcher decodes the kind once
// at the boundary, runs the event through the filter chain (rate limiting
// first), buffers events arriving before the controller is ready, routes
// chunk traffic into the reassembler, and fans everything else out to the
// registered handlers.
type EventDispatcher struct {
	mu      sync.Mutex
	ready   bool
	buffer  []*EngineEvent
	bufCap  int
	filters EventFilterChain

	recvLimiter recvLimiter
	reassembler *Reassembler
	met         *metrics.BridgeMetrics

	onMessage     func(msg Message)
	onBinary      func(data []byte)
	binaryRouter  func(target, method string, data []byte)
	onProgress    func(p TransferProgress)
	onSceneLoaded func(scene string)
	onLifecycle   func(payload map[string]any)
	onError       func(err error)
}

// NewEventDispatcher creates a dispatcher. cfg may be nil for defaults
// (10000 events/s, burst 100, buffer 100). met may be nil.
func NewEventDispatcher(cfg *DispatcherCfg, met *metrics.BridgeMetrics) *EventDispatcher {
	if cfg == nil {
		cfg = &DispatcherCfg{RecvRateLimit: 10000, TokenBurst: 100}
	}
	if met == nil {
		met = metrics.Nop()
	}
	var limiter recvLimiter
	if cfg.RecvLimiterType == RecvLimiterFunnel {
		limiter = NewFunnelRecvLimiter(cfg.RecvRateLimit)
	} else {
		limiter = NewTokenRecvLimiter(cfg.RecvRateLimit, cfg.TokenBurst)
	}
	d := &EventDispatcher{
		bufCap:      cfg.BufferCapacity,
		recvLimiter: limiter,
		met:         met,
	}
	if d.bufCap <= 0 {
		d.bufCap = defaultEventBufferCap
	}
	d.filters = EventFilterChain{d.recvLimiter.recvLimiterFilter}
	d.reassembler = NewReassembler(
		func(target, method string, data []byte) { d.deliverBinaryFrom(target, method, data) },
		func(p TransferProgress) { d.deliverProgress(p) },
		func(err error) { d.deliverError(err) },
		met,
	)
	return d
}

// RegFilter appends a filter to the inbound pipeline.
func (d *EventDispatcher) RegFilter(f EventFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = append(d.filters, f)
}

// Reload updates the inbound rate limit at runtime. The limiting algorithm
// itself is fixed at construction.
func (d *EventDispatcher) Reload(recvRateLimit, tokenBurst int) {
	d.recvLimiter.reload(recvRateLimit, tokenBurst)
}

// Handler registration. Each setter replaces any previous handler.

func (d *EventDispatcher) SetMessageHandler(h func(msg Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = h
}

func (d *EventDispatcher) SetBinaryHandler(h func(data []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onBinary = h
}

// SetBinaryRouter installs the routed-binary hook. It receives the (target,
// method) the sender addressed, alongside the raw binary handler, for
// payloads whose origin carried routing context.
func (d *EventDispatcher) SetBinaryRouter(h func(target, method string, data []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binaryRouter = h
}

func (d *EventDispatcher) SetProgressHandler(h func(p TransferProgress)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onProgress = h
}

func (d *EventDispatcher) SetSceneLoadedHandler(h func(scene string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSceneLoaded = h
}

func (d *EventDispatcher) SetLifecycleHandler(h func(payload map[string]any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLifecycle = h
}

func (d *EventDispatcher) SetErrorHandler(h func(err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = h
}

// OnEngineEvent is the entry point invoked by the platform layer. The kind
// string is decoded here, once; unknown kinds are rejected. Events arriving
// before MarkReady are buffered (bounded, oldest dropped).
func (d *EventDispatcher) OnEngineEvent(kind string, payload map[string]any) error {
	k, err := ParseEngineEventKind(kind)
	if err != nil {
		log.Warn().Str("kind", kind).Msg("unknown engine event kind")
		return err
	}
	event := &EngineEvent{Kind: k, Payload: payload}

	d.mu.Lock()
	if !d.ready {
		if len(d.buffer) >= d.bufCap {
			d.buffer = d.buffer[1:]
			d.met.MessagesDropped.WithLabelValues("event_buffer_overflow").Inc()
		}
		d.buffer = append(d.buffer, event)
		d.mu.Unlock()
		return nil
	}
	filters := d.filters
	d.mu.Unlock()

	return filters.Handle(event, d.dispatch)
}

// MarkReady releases the pre-ready buffer in FIFO order and switches the
// dispatcher to direct processing.
func (d *EventDispatcher) MarkReady() {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return
	}
	d.ready = true
	buffered := d.buffer
	d.buffer = nil
	filters := d.filters
	d.mu.Unlock()

	for _, e := range buffered {
		if err := filters.Handle(e, d.dispatch); err != nil {
			log.Error().Err(err).Str("kind", e.Kind.String()).
				Msg("buffered event dispatch failed")
		}
	}
}

// BufferedCount returns the number of events held before readiness.
func (d *EventDispatcher) BufferedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// dispatch fans one decoded event out to its handler.
func (d *EventDispatcher) dispatch(e *EngineEvent) error {
	switch e.Kind {
	case EventMessage:
		return d.dispatchMessage(e.Payload)
	case EventBinaryMessage:
		return d.dispatchBinary(e.Payload)
	case EventBinaryChunk:
		raw, err := codec.Encode(e.Payload)
		if err != nil {
			return err
		}
		return d.reassembler.HandleChunk(raw)
	case EventBinaryProgress:
		return d.dispatchProgress(e.Payload)
	case EventSceneLoaded:
		scene, _ := e.Payload["sceneName"].(string)
		d.mu.Lock()
		h := d.onSceneLoaded
		d.mu.Unlock()
		if h != nil {
			h(scene)
		}
		return nil
	case EventLifecycle:
		d.mu.Lock()
		h := d.onLifecycle
		d.mu.Unlock()
		if h != nil {
			h(e.Payload)
		}
		return nil
	case EventError:
		msg, _ := e.Payload["message"].(string)
		d.deliverError(fmt.Errorf("engine error: %s", msg))
		return nil
	default:
		return &InvalidArgumentError{Field: "kind", Reason: "unhandled event kind"}
	}
}

func (d *EventDispatcher) dispatchMessage(payload map[string]any) error {
	target, _ := payload["target"].(string)
	method, _ := payload["method"].(string)
	data, _ := payload["data"].(string)

	msg := NewTextMessage(target, method, data)
	if err := msg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	h := d.onMessage
	d.mu.Unlock()
	if h != nil {
		h(msg)
	}
	return nil
}

func (d *EventDispatcher) dispatchBinary(payload map[string]any) error {
	encoded, _ := payload["data"].(string)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &InvalidArgumentError{Field: "data", Reason: err.Error()}
	}
	// Sniff-decompress: plain payloads pass through unchanged.
	plain, err := codec.Decompress(data)
	if err != nil {
		return err
	}
	target, _ := payload["target"].(string)
	method, _ := payload["method"].(string)
	d.deliverBinaryFrom(target, method, plain)
	return nil
}

func (d *EventDispatcher) dispatchProgress(payload map[string]any) error {
	p := TransferProgress{}
	if v, ok := payload["transferId"].(string); ok {
		p.TransferID = v
	}
	if v, ok := payload["currentChunk"].(float64); ok {
		p.CurrentChunk = int(v)
	}
	if v, ok := payload["totalChunks"].(float64); ok {
		p.TotalChunks = int(v)
	}
	if v, ok := payload["bytesTransferred"].(float64); ok {
		p.BytesTransferred = int(v)
	}
	if v, ok := payload["totalBytes"].(float64); ok {
		p.TotalBytes = int(v)
	}
	d.deliverProgress(p)
	return nil
}

func (d *EventDispatcher) deliverBinary(data []byte) {
	d.mu.Lock()
	h := d.onBinary
	d.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// deliverBinaryFrom fans a binary payload out to the raw handler and, when
// the sender supplied routing context, to the routed-binary hook.
func (d *EventDispatcher) deliverBinaryFrom(target, method string, data []byte) {
	d.deliverBinary(data)
	d.mu.Lock()
	r := d.binaryRouter
	d.mu.Unlock()
	if r != nil && target != "" && method != "" {
		r(target, method, data)
	}
}

func (d *EventDispatcher) deliverProgress(p TransferProgress) {
	d.mu.Lock()
	h := d.onProgress
	d.mu.Unlock()
	if h != nil {
		h(p)
	}
}

func (d *EventDispatcher) deliverError(err error) {
	d.mu.Lock()
	h := d.onError
	d.mu.Unlock()
	if h != nil {
		h(err)
	}
}
