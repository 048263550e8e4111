package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lcx/gamebridge/codec"
	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/metrics"
)

const (
	defaultMaxBatchSize  = 50
	defaultFlushInterval = 16 * time.Millisecond
)

// BatcherCfg configures the outbound message batcher.
type BatcherCfg struct {
	// MaxBatchSize triggers an immediate flush when the pending list reaches
	// this many entries. Default 50.
	MaxBatchSize int
	// FlushInterval is the periodic flush window. Default 16ms (~60Hz).
	FlushInterval time.Duration
	// Enabled toggles batching; when false every queued message is sent
	// immediately, bypassing the pending list entirely.
	Enabled bool
	// EnableCoalescing collapses same-(target,method) messages to the latest
	// value while pending. Callers needing per-key ordering of distinct
	// values must leave this off.
	EnableCoalescing bool

	Clock   clock.Clock
	Metrics *metrics.BridgeMetrics
}

// BatcherStats is a point-in-time snapshot of batcher counters.
type BatcherStats struct {
	TotalQueued    uint64
	TotalBatches   uint64
	TotalCoalesced uint64
	PendingCount   int
	AvgPerBatch    float64
}

// Batcher accumulates outbound messages over a time window or count
// threshold and flushes them as one envelope, coalescing same-key updates
// when configured. A single pending message is sent directly, skipping the
// envelope overhead.
type Batcher struct {
	mu       sync.Mutex
	cfg      BatcherCfg
	pending  []Message
	keyIndex map[string]int

	transport Transport
	clk       clock.Clock
	met       *metrics.BridgeMetrics

	ticker   *clock.Ticker
	stopCh   chan struct{}
	disposed bool

	totalQueued    uint64
	totalBatches   uint64
	totalCoalesced uint64
}

// NewBatcher creates a batcher writing to transport. cfg may be nil, which
// yields an enabled, coalescing batcher with the defaults.
func NewBatcher(transport Transport, cfg *BatcherCfg) *Batcher {
	c := BatcherCfg{Enabled: true, EnableCoalescing: true}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop()
	}

	b := &Batcher{
		cfg:       c,
		keyIndex:  make(map[string]int),
		transport: transport,
		clk:       c.Clock,
		met:       c.Metrics,
		stopCh:    make(chan struct{}),
	}
	if c.Enabled {
		b.startTimerLocked()
	}
	return b
}

// startTimerLocked launches the periodic flush loop. Caller owns b.mu or the
// batcher is not yet shared.
func (b *Batcher) startTimerLocked() {
	b.ticker = b.clk.Ticker(b.cfg.FlushInterval)
	stop := b.stopCh
	ticker := b.ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := b.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("periodic batch flush failed")
				}
			case <-stop:
				return
			}
		}
	}()
}

// SetFlushInterval reconfigures the flush window and restarts the timer.
func (b *Batcher) SetFlushInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.cfg.FlushInterval = interval
	if b.ticker != nil {
		b.ticker.Stop()
		close(b.stopCh)
		b.stopCh = make(chan struct{})
		b.startTimerLocked()
	}
}

// Queue adds a message to the pending batch. With coalescing enabled, an
// existing pending entry for the same (target, method) is replaced in place
// and its earlier payload discarded. Reaching MaxBatchSize flushes
// immediately. A disabled batcher sends the message straight through.
func (b *Batcher) Queue(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if !b.cfg.Enabled {
		return b.sendDirect(ctx, msg)
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return &InvalidArgumentError{Field: "batcher", Reason: "disposed"}
	}

	if b.cfg.EnableCoalescing {
		if i, ok := b.keyIndex[msg.RouteKey()]; ok {
			b.pending[i] = msg
			b.totalCoalesced++
			b.met.MessagesCoalesced.Inc()
			b.mu.Unlock()
			return nil
		}
	}

	b.pending = append(b.pending, msg)
	b.keyIndex[msg.RouteKey()] = len(b.pending) - 1
	b.totalQueued++
	b.met.PendingMessages.Set(float64(len(b.pending)))

	full := len(b.pending) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Flush sends everything pending. One entry goes out as a direct message; two
// or more become a single batch envelope. If the envelope send fails, each
// entry is retried individually, best effort, and the first failure is
// returned after the loop completes.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = nil
	b.keyIndex = make(map[string]int)
	b.met.PendingMessages.Set(0)
	b.mu.Unlock()

	if len(batch) == 1 {
		b.recordBatch(1)
		return b.sendDirect(ctx, batch[0])
	}

	env := batchEnvelope{Batch: true, Count: len(batch)}
	env.Messages = make([]batchEntryWire, 0, len(batch))
	for i := range batch {
		data, dt, err := batch[i].EncodePayload()
		if err != nil {
			log.Error().Err(err).Str("target", batch[i].Target).
				Str("method", batch[i].Method).Msg("batch entry encode failed, skipping")
			continue
		}
		env.Messages = append(env.Messages, batchEntryWire{
			Target: batch[i].Target, Method: batch[i].Method, Data: data, DataType: dt,
		})
	}
	env.Count = len(env.Messages)

	payload, err := codec.Encode(env)
	if err != nil {
		return err
	}

	b.recordBatch(len(env.Messages))
	if err := b.transport.SendRaw(ctx, batchTarget, batchMethod, payload); err != nil {
		log.Warn().Err(err).Int("count", len(batch)).
			Msg("batch send failed, falling back to individual sends")
		return b.sendIndividually(ctx, batch)
	}
	return nil
}

// Special route carrying batch envelopes; the engine side unpacks it.
const (
	batchTarget = "__bridge__"
	batchMethod = "batch"
)

// sendIndividually degrades a failed batch to per-message sends. Failures
// are reported per message and do not abort the remainder.
func (b *Batcher) sendIndividually(ctx context.Context, batch []Message) error {
	var firstErr error
	for i := range batch {
		if err := b.sendDirect(ctx, batch[i]); err != nil {
			log.Error().Err(err).Str("target", batch[i].Target).
				Str("method", batch[i].Method).Msg("fallback send failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Batcher) sendDirect(ctx context.Context, msg Message) error {
	data, _, err := msg.EncodePayload()
	if err != nil {
		return err
	}
	if err := b.transport.SendRaw(ctx, msg.Target, msg.Method, []byte(data)); err != nil {
		return &TransportError{Target: msg.Target, Method: msg.Method, Err: err}
	}
	b.met.MessagesSent.WithLabelValues(msg.Target).Inc()
	return nil
}

func (b *Batcher) recordBatch(size int) {
	b.mu.Lock()
	b.totalBatches++
	b.mu.Unlock()
	b.met.BatchesFlushed.Inc()
	b.met.BatchSize.Observe(float64(size))
}

// Stats returns a snapshot of the batcher counters.
func (b *Batcher) Stats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BatcherStats{
		TotalQueued:    b.totalQueued,
		TotalBatches:   b.totalBatches,
		TotalCoalesced: b.totalCoalesced,
		PendingCount:   len(b.pending),
	}
	if b.totalBatches > 0 {
		s.AvgPerBatch = float64(b.totalQueued) / float64(b.totalBatches)
	}
	return s
}

// Dispose cancels the periodic timer and discards pending messages without
// flushing them. The batcher accepts no further traffic.
func (b *Batcher) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.disposed = true
	if b.ticker != nil {
		b.ticker.Stop()
	}
	close(b.stopCh)
	dropped := len(b.pending)
	b.pending = nil
	b.keyIndex = make(map[string]int)
	b.met.PendingMessages.Set(0)
	if dropped > 0 {
		b.met.MessagesDropped.WithLabelValues("dispose").Add(float64(dropped))
		log.Debug().Int("count", dropped).Msg("batcher disposed, pending messages discarded")
	}
}
