package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/metrics"
	"github.com/lcx/gamebridge/utils"
)

// ThrottleStrategy selects what happens to messages arriving faster than the
// configured rate for their key.
type ThrottleStrategy uint8

const (
	// StrategyDrop discards the over-rate message.
	StrategyDrop ThrottleStrategy = iota
	// StrategyKeepLatest retains the newest suppressed message per key,
	// overwriting earlier suppressed values.
	StrategyKeepLatest
	// StrategyKeepFirst retains the first suppressed message per key until
	// the next accepted send or an explicit Flush.
	StrategyKeepFirst
)

// throttleState is per-(target,method) bookkeeping.
type throttleState struct {
	rateHz   int
	strategy ThrottleStrategy
	interval time.Duration
	lastSend time.Time
	hasSent  bool
	pending  *Message
}

// Throttler caps the per-key outbound message rate. It is orthogonal to the
// Batcher: batching reduces transport round-trips, throttling bounds the
// semantic update rate regardless of how messages travel.
type Throttler struct {
	mu        sync.Mutex
	states    map[string]*throttleState
	transport Transport
	clk       clock.Clock
	met       *metrics.BridgeMetrics
}

// NewThrottler creates a throttler writing to transport. clk and met may be
// nil for the real clock and unregistered metrics.
func NewThrottler(transport Transport, clk clock.Clock, met *metrics.BridgeMetrics) *Throttler {
	if clk == nil {
		clk = clock.New()
	}
	if met == nil {
		met = metrics.Nop()
	}
	return &Throttler{
		states:    make(map[string]*throttleState),
		transport: transport,
		clk:       clk,
		met:       met,
	}
}

// SetRate registers or replaces the throttle configuration for a
// (target, method) route. messagesPerSecond <= 0 removes throttling for the
// route (immediate passthrough).
func (t *Throttler) SetRate(target, method string, messagesPerSecond int, strategy ThrottleStrategy) {
	key := utils.RouteKey(target, method)
	t.mu.Lock()
	defer t.mu.Unlock()
	if messagesPerSecond <= 0 {
		delete(t.states, key)
		return
	}
	t.states[key] = &throttleState{
		rateHz:   messagesPerSecond,
		strategy: strategy,
		interval: time.Second / time.Duration(messagesPerSecond),
	}
}

// Send delivers the message immediately if its route is unthrottled or its
// interval has elapsed; otherwise the route's strategy decides whether the
// message is dropped or retained for a later Flush. An accepted send discards
// any retained value for the route.
func (t *Throttler) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	key := msg.RouteKey()
	t.mu.Lock()
	st, ok := t.states[key]
	if !ok {
		t.mu.Unlock()
		return t.sendNow(ctx, msg)
	}

	now := t.clk.Now()
	if !st.hasSent || now.Sub(st.lastSend) >= st.interval {
		st.lastSend = now
		st.hasSent = true
		st.pending = nil
		t.mu.Unlock()
		return t.sendNow(ctx, msg)
	}

	t.met.MessagesThrottled.Inc()
	switch st.strategy {
	case StrategyDrop:
		t.met.MessagesDropped.WithLabelValues("throttle").Inc()
	case StrategyKeepLatest:
		m := msg
		st.pending = &m
	case StrategyKeepFirst:
		if st.pending == nil {
			m := msg
			st.pending = &m
		}
	}
	t.mu.Unlock()
	return nil
}

// Flush immediately sends every retained suppressed value across all routes,
// then clears them. The lastSend bookkeeping is not reset, so flushing does
// not open the rate window.
func (t *Throttler) Flush(ctx context.Context) error {
	t.mu.Lock()
	var out []Message
	for _, st := range t.states {
		if st.pending != nil {
			out = append(out, *st.pending)
			st.pending = nil
		}
	}
	t.mu.Unlock()

	var firstErr error
	for i := range out {
		if err := t.sendNow(ctx, out[i]); err != nil {
			log.Error().Err(err).Str("target", out[i].Target).
				Str("method", out[i].Method).Msg("throttler flush send failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PendingCount returns the number of routes holding a retained value.
func (t *Throttler) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.states {
		if st.pending != nil {
			n++
		}
	}
	return n
}

func (t *Throttler) sendNow(ctx context.Context, msg Message) error {
	data, _, err := msg.EncodePayload()
	if err != nil {
		return err
	}
	if err := t.transport.SendRaw(ctx, msg.Target, msg.Method, []byte(data)); err != nil {
		return &TransportError{Target: msg.Target, Method: msg.Method, Err: err}
	}
	t.met.MessagesSent.WithLabelValues(msg.Target).Inc()
	return nil
}
