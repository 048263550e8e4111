package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lcx/gamebridge/config"
	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/metrics"
)

// Controller is the facade over one engine bridge instance. It owns the
// ready gate, the inbound dispatcher and router, the chunker and the delta
// compressor, and hands out batchers and throttlers that share the gated
// transport. Application code may send immediately after construction;
// traffic queues until the handshake confirms the channel.
type Controller struct {
	mu        sync.Mutex
	cfg       *BridgeCfg
	gate      *ReadyGate
	dsp       *EventDispatcher
	router    *Router
	chunker   *Chunker
	delta     *DeltaCompressor
	clk       clock.Clock
	met       *metrics.BridgeMetrics
	batchers  []*Batcher
	onMessage func(msg Message)
	disposed  bool
}

// NewController builds a controller over the raw transport. probe is the
// readiness check issued by Handshake. cfg, clk and met may be nil.
func NewController(transport Transport, probe HandshakeProbe, cfg *BridgeCfg, clk clock.Clock, met *metrics.BridgeMetrics) *Controller {
	if cfg == nil {
		cfg = DefaultBridgeCfg()
	}
	if clk == nil {
		clk = clock.New()
	}
	if met == nil {
		met = metrics.Nop()
	}

	gate := NewReadyGate(transport, probe, &ReadyGateCfg{
		MaxAttempts:   cfg.HandshakeMaxAttempts,
		BaseDelay:     cfg.HandshakeBaseDelay(),
		QueueCapacity: cfg.QueueCapacity,
		Clock:         clk,
		Metrics:       met,
	})

	c := &Controller{
		cfg:     cfg,
		gate:    gate,
		router:  NewRouter(),
		chunker: NewChunker(gate, met),
		delta:   NewDeltaCompressor(),
		clk:     clk,
		met:     met,
	}
	c.dsp = NewEventDispatcher(&DispatcherCfg{
		RecvRateLimit:   cfg.RecvRateLimit,
		TokenBurst:      cfg.TokenBurst,
		RecvLimiterType: cfg.RecvLimiterType,
		BufferCapacity:  cfg.EventBufferCapacity,
	}, met)
	c.dsp.SetMessageHandler(c.routeInbound)
	c.dsp.SetBinaryRouter(func(target, method string, data []byte) {
		c.router.RouteBinaryMessage(target, method, data)
	})
	return c
}

// routeInbound feeds decoded inbound messages to the user handler and then
// the router.
func (c *Controller) routeInbound(msg Message) {
	c.mu.Lock()
	h := c.onMessage
	c.mu.Unlock()
	if h != nil {
		h(msg)
	}
	c.router.RouteMessage(msg.Target, msg.Method, msg.Text)
}

// Handshake drives the readiness probe (retrying the transient not-ready
// failure with exponential backoff) and, on success, releases both the
// outbound queue and the buffered inbound events. Idempotent after success.
func (c *Controller) Handshake(ctx context.Context) error {
	err := c.gate.Handshake(ctx)
	if err != nil {
		c.dsp.deliverError(err)
		return err
	}
	c.dsp.MarkReady()
	return nil
}

// IsReady reports whether the channel handshake has completed.
func (c *Controller) IsReady() bool {
	return c.gate.IsReady()
}

// SendMessage sends a string payload to a target method.
func (c *Controller) SendMessage(ctx context.Context, target, method, data string) error {
	msg := NewTextMessage(target, method, data)
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.sendDirect(ctx, msg)
}

// SendJSONMessage sends a structured payload to a target method.
func (c *Controller) SendJSONMessage(ctx context.Context, target, method string, data map[string]any) error {
	msg := NewJSONMessage(target, method, data)
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.sendDirect(ctx, msg)
}

func (c *Controller) sendDirect(ctx context.Context, msg Message) error {
	data, _, err := msg.EncodePayload()
	if err != nil {
		return err
	}
	if err := c.gate.SendRaw(ctx, msg.Target, msg.Method, []byte(data)); err != nil {
		return &TransportError{Target: msg.Target, Method: msg.Method, Err: err}
	}
	c.met.MessagesSent.WithLabelValues(msg.Target).Inc()
	return nil
}

// SendCompressedMessage gzips a binary payload and sends it as one message.
func (c *Controller) SendCompressedMessage(ctx context.Context, target, method string, data []byte) error {
	return c.chunker.SendCompressed(ctx, target, method, data)
}

// SendChunkedBinaryMessage transfers a large binary payload through the
// chunk protocol. chunkSize <= 0 uses the configured default. Returns the
// transfer id.
func (c *Controller) SendChunkedBinaryMessage(ctx context.Context, target, method string, data []byte, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = c.cfg.ChunkSize
	}
	return c.chunker.SendChunked(ctx, target, method, data, chunkSize)
}

// CreateBatcher returns a batcher whose flushes pass through the ready gate.
// Zero arguments select the configured defaults. The controller disposes all
// its batchers on Dispose.
func (c *Controller) CreateBatcher(maxBatchSize int, flushInterval time.Duration) *Batcher {
	if maxBatchSize <= 0 {
		maxBatchSize = c.cfg.MaxBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = c.cfg.FlushInterval()
	}
	b := NewBatcher(c.gate, &BatcherCfg{
		MaxBatchSize:     maxBatchSize,
		FlushInterval:    flushInterval,
		Enabled:          c.cfg.EnableBatching,
		EnableCoalescing: c.cfg.EnableCoalescing,
		Clock:            c.clk,
		Metrics:          c.met,
	})
	c.mu.Lock()
	c.batchers = append(c.batchers, b)
	c.mu.Unlock()
	return b
}

// CreateThrottler returns a throttler whose sends pass through the ready gate.
func (c *Controller) CreateThrottler() *Throttler {
	return NewThrottler(c.gate, c.clk, c.met)
}

// Delta returns the controller's delta compressor.
func (c *Controller) Delta() *DeltaCompressor {
	return c.delta
}

// Router returns the inbound message router.
func (c *Controller) Router() *Router {
	return c.router
}

// OnEngineEvent is the inbound entry point invoked by the platform layer.
func (c *Controller) OnEngineEvent(kind string, payload map[string]any) error {
	return c.dsp.OnEngineEvent(kind, payload)
}

// SetMessageHandler installs the raw inbound message handler, called before
// router dispatch.
func (c *Controller) SetMessageHandler(h func(msg Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

// SetBinaryHandler installs the reassembled/decompressed binary payload handler.
func (c *Controller) SetBinaryHandler(h func(data []byte)) {
	c.dsp.SetBinaryHandler(h)
}

// SetProgressHandler installs the chunked transfer progress handler.
func (c *Controller) SetProgressHandler(h func(p TransferProgress)) {
	c.dsp.SetProgressHandler(h)
}

// SetSceneLoadedHandler installs the scene loaded handler.
func (c *Controller) SetSceneLoadedHandler(h func(scene string)) {
	c.dsp.SetSceneLoadedHandler(h)
}

// SetLifecycleHandler installs the engine lifecycle handler.
func (c *Controller) SetLifecycleHandler(h func(payload map[string]any)) {
	c.dsp.SetLifecycleHandler(h)
}

// SetErrorHandler installs the error event handler. Handshake timeouts and
// transfer verification failures arrive here.
func (c *Controller) SetErrorHandler(h func(err error)) {
	c.dsp.SetErrorHandler(h)
}

// OnConfigChanged implements config.ConfigChangeListener for the "bridge"
// configuration: the inbound rate limit and batcher flush interval apply live.
func (c *Controller) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != "bridge" {
		return nil
	}
	newCfg, ok := newConfig.(*BridgeCfg)
	if !ok {
		return nil
	}

	c.dsp.Reload(newCfg.RecvRateLimit, newCfg.TokenBurst)

	c.mu.Lock()
	c.cfg = newCfg
	batchers := make([]*Batcher, len(c.batchers))
	copy(batchers, c.batchers)
	c.mu.Unlock()

	for _, b := range batchers {
		b.SetFlushInterval(newCfg.FlushInterval())
	}
	log.Info().Int("recvRateLimit", newCfg.RecvRateLimit).
		Int("flushIntervalMs", newCfg.FlushIntervalMs).Msg("bridge config reloaded")
	return nil
}

// PendingCount returns the number of sends queued behind the ready gate.
func (c *Controller) PendingCount() int {
	return c.gate.PendingCount()
}

// Dispose tears the controller down: every batcher created through it is
// disposed (pending messages discarded, timers canceled). Safe to call more
// than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	batchers := c.batchers
	c.batchers = nil
	c.mu.Unlock()

	for _, b := range batchers {
		b.Dispose()
	}
	c.router.ClearQueue()
	log.Debug().Msg("controller disposed")
}
