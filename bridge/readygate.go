package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/metrics"
)

// GateState is the handshake state machine position.
type GateState uint8

const (
	GateUninitialized GateState = iota
	GateAwaitingHandshake
	GateReady
	GateFailed
)

// ErrHandshakeInProgress is returned when Handshake is called while a prior
// call is still running its retry loop.
var ErrHandshakeInProgress = errors.New("bridge: handshake already in progress")

// HandshakeProbe issues one readiness check against the engine channel.
// It returns nil when the channel is up, ErrChannelNotReady (possibly
// wrapped) when the channel exists but is not wired yet, and any other
// error for fatal conditions.
type HandshakeProbe func(ctx context.Context) error

const (
	defaultMaxAttempts   = 10
	defaultBaseDelay     = 50 * time.Millisecond
	defaultQueueCapacity = 100
)

// ReadyGateCfg tunes the handshake retry budget and the pre-ready queue.
// Zero values fall back to the defaults above.
type ReadyGateCfg struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	QueueCapacity int
	Clock         clock.Clock
	Metrics       *metrics.BridgeMetrics
}

type queuedSend struct {
	target  string
	method  string
	payload []byte
}

// ReadyGate absorbs the racy startup of the embedded engine view. It wraps
// the raw transport: sends issued before the handshake completes are queued
// (bounded, oldest dropped under pressure) and flushed in FIFO order the
// moment the channel is confirmed ready. After that, sends pass straight
// through. The not-ready to ready transition happens at most once per gate;
// a failed gate stays failed.
type ReadyGate struct {
	mu         sync.Mutex
	state      GateState
	inProgress bool
	failErr    error

	inner Transport
	probe HandshakeProbe
	queue []queuedSend

	maxAttempts int
	baseDelay   time.Duration
	queueCap    int
	clk         clock.Clock
	met         *metrics.BridgeMetrics
}

// NewReadyGate wraps inner with a queue-until-ready gate. cfg may be nil.
func NewReadyGate(inner Transport, probe HandshakeProbe, cfg *ReadyGateCfg) *ReadyGate {
	if cfg == nil {
		cfg = &ReadyGateCfg{}
	}
	g := &ReadyGate{
		inner:       inner,
		probe:       probe,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		queueCap:    cfg.QueueCapacity,
		clk:         cfg.Clock,
		met:         cfg.Metrics,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = defaultMaxAttempts
	}
	if g.baseDelay <= 0 {
		g.baseDelay = defaultBaseDelay
	}
	if g.queueCap <= 0 {
		g.queueCap = defaultQueueCapacity
	}
	if g.clk == nil {
		g.clk = clock.New()
	}
	if g.met == nil {
		g.met = metrics.Nop()
	}
	return g
}

// State returns the current gate state.
func (g *ReadyGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsReady reports whether the handshake has completed successfully.
func (g *ReadyGate) IsReady() bool {
	return g.State() == GateReady
}

// PendingCount returns the number of queued sends awaiting readiness.
func (g *ReadyGate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Handshake drives the readiness probe to completion. The transient
// ErrChannelNotReady failure is retried with delays of BaseDelay*2^attempt
// (50, 100, 200, 400, ... ms by default) up to MaxAttempts probes; any other
// probe error fails the gate immediately. On success the queued sends are
// flushed in arrival order before Handshake returns.
//
// Calling Handshake again after success is a no-op; after failure it returns
// the original error.
func (g *ReadyGate) Handshake(ctx context.Context) error {
	g.mu.Lock()
	switch g.state {
	case GateReady:
		g.mu.Unlock()
		return nil
	case GateFailed:
		err := g.failErr
		g.mu.Unlock()
		return err
	}
	if g.inProgress {
		g.mu.Unlock()
		return ErrHandshakeInProgress
	}
	g.inProgress = true
	g.state = GateAwaitingHandshake
	g.mu.Unlock()

	err := g.attemptLoop(ctx)

	g.mu.Lock()
	g.inProgress = false
	if err == nil {
		g.state = GateReady
		g.flushLocked()
	} else if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		g.state = GateFailed
		g.failErr = err
	} else {
		// Caller cancellation leaves the gate retryable.
		g.state = GateUninitialized
	}
	g.mu.Unlock()
	return err
}

func (g *ReadyGate) attemptLoop(ctx context.Context) error {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		err := g.probe(ctx)
		if err == nil {
			log.Debug().Int("attempt", attempt).Msg("handshake confirmed")
			return nil
		}
		if !errors.Is(err, ErrChannelNotReady) {
			log.Error().Err(err).Int("attempt", attempt).Msg("handshake fatal failure")
			return err
		}
		if attempt == g.maxAttempts-1 {
			break
		}

		g.met.HandshakeRetries.Inc()
		delay := g.baseDelay << attempt
		log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("channel not ready, backing off")

		timer := g.clk.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	err := &HandshakeTimeoutError{Attempts: g.maxAttempts}
	log.Error().Int("attempts", g.maxAttempts).Msg("handshake retry budget exhausted")
	return err
}

// SendRaw implements Transport. Before readiness, payloads are queued FIFO
// with drop-oldest overflow; afterwards they pass straight to the wrapped
// transport.
func (g *ReadyGate) SendRaw(ctx context.Context, target, method string, payload []byte) error {
	g.mu.Lock()
	if g.state != GateReady {
		if len(g.queue) >= g.queueCap {
			evicted := g.queue[0]
			g.queue = g.queue[1:]
			g.met.MessagesDropped.WithLabelValues("queue_overflow").Inc()
			log.Warn().Str("target", evicted.target).Str("method", evicted.method).
				Msg("pre-ready queue full, evicting oldest")
		}
		buf := make([]byte, len(payload))
		copy(buf, payload)
		g.queue = append(g.queue, queuedSend{target: target, method: method, payload: buf})
		g.met.PendingMessages.Set(float64(len(g.queue)))
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	return g.inner.SendRaw(ctx, target, method, payload)
}

// flushLocked drains the queue in FIFO order. Per-message failures are
// reported but do not stop the drain. Caller holds g.mu, so sends issued
// concurrently with the flush serialize behind the queued ones.
func (g *ReadyGate) flushLocked() {
	if len(g.queue) == 0 {
		return
	}
	log.Info().Int("count", len(g.queue)).Msg("channel ready, flushing queued messages")
	for _, q := range g.queue {
		if err := g.inner.SendRaw(context.Background(), q.target, q.method, q.payload); err != nil {
			g.met.MessagesDropped.WithLabelValues("flush_failure").Inc()
			log.Error().Err(err).Str("target", q.target).Str("method", q.method).
				Msg("queued message send failed")
		}
	}
	g.queue = nil
	g.met.PendingMessages.Set(0)
}
