package bridge

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lcx/gamebridge/codec"
)

func newTestBatcher(tr Transport, coalesce bool) *Batcher {
	return NewBatcher(tr, &BatcherCfg{
		Enabled:          true,
		EnableCoalescing: coalesce,
		Clock:            clock.NewMock(),
	})
}

// 合并开启时同键消息只保留最新值
func TestBatcherCoalescing(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, true)
	defer b.Dispose()

	if err := b.Queue(context.Background(), NewTextMessage("Player", "position", "1,2")); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if err := b.Queue(context.Background(), NewTextMessage("Player", "position", "3,4")); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	stats := b.Stats()
	if stats.PendingCount != 1 {
		t.Fatalf("PendingCount = %d, want 1", stats.PendingCount)
	}
	if stats.TotalCoalesced != 1 {
		t.Errorf("TotalCoalesced = %d, want 1", stats.TotalCoalesced)
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sent := tr.records()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if string(sent[0].Payload) != "3,4" {
		t.Errorf("payload = %s, want latest value 3,4", sent[0].Payload)
	}
}

// 不同键的消息不合并,各自保留位置
func TestBatcherDistinctKeysNotCoalesced(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, true)
	defer b.Dispose()

	_ = b.Queue(context.Background(), NewTextMessage("A", "x", "1"))
	_ = b.Queue(context.Background(), NewTextMessage("B", "x", "2"))
	if b.Stats().PendingCount != 2 {
		t.Fatalf("PendingCount = %d, want 2", b.Stats().PendingCount)
	}
}

// 达到maxBatchSize时立即触发一次flush
func TestBatcherSizeTrigger(t *testing.T) {
	tr := &recordingTransport{}
	b := NewBatcher(tr, &BatcherCfg{
		MaxBatchSize:     5,
		Enabled:          true,
		EnableCoalescing: false,
		Clock:            clock.NewMock(),
	})
	defer b.Dispose()

	for i := 0; i < 5; i++ {
		msg := NewTextMessage("T", "m"+strconv.Itoa(i), "d")
		if err := b.Queue(context.Background(), msg); err != nil {
			t.Fatalf("Queue: %v", err)
		}
	}

	if b.Stats().PendingCount != 0 {
		t.Fatalf("PendingCount = %d, want 0 after size-triggered flush", b.Stats().PendingCount)
	}
	sent := tr.records()
	if len(sent) != 1 {
		t.Fatalf("transport calls = %d, want 1 batch envelope", len(sent))
	}

	var env batchEnvelope
	if err := codec.Decode(sent[0].Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Batch || env.Count != 5 || len(env.Messages) != 5 {
		t.Errorf("envelope = %+v, want batch of 5", env)
	}
}

// 单条消息flush走直发路径,不带batch信封
func TestBatcherSingleMessageDirectSend(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, true)
	defer b.Dispose()

	_ = b.Queue(context.Background(), NewTextMessage("GameManager", "pause", "true"))
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sent := tr.records()
	if len(sent) != 1 {
		t.Fatalf("sent %d, want 1", len(sent))
	}
	if sent[0].Target != "GameManager" || sent[0].Method != "pause" {
		t.Errorf("direct send route = %s.%s", sent[0].Target, sent[0].Method)
	}
	if strings.Contains(string(sent[0].Payload), "batch") {
		t.Errorf("direct send must not carry a batch envelope: %s", sent[0].Payload)
	}
}

// JSON载荷在信封内带"j"标记
func TestBatcherJSONDataType(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, false)
	defer b.Dispose()

	_ = b.Queue(context.Background(), NewJSONMessage("A", "state", map[string]any{"hp": 10}))
	_ = b.Queue(context.Background(), NewTextMessage("B", "label", "hello"))
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var env batchEnvelope
	if err := codec.Decode(tr.records()[0].Payload, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	types := map[string]string{}
	for _, m := range env.Messages {
		types[m.Target] = m.DataType
	}
	if types["A"] != "j" || types["B"] != "s" {
		t.Errorf("data types = %v, want A:j B:s", types)
	}
}

// 批量发送失败时退化为逐条发送
func TestBatcherFallbackToIndividualSends(t *testing.T) {
	tr := &recordingTransport{}
	failing := TransportFunc(func(ctx context.Context, target, method string, payload []byte) error {
		if target == batchTarget {
			return errors.New("batch too large")
		}
		return tr.SendRaw(ctx, target, method, payload)
	})

	b := NewBatcher(failing, &BatcherCfg{
		Enabled: true,
		Clock:   clock.NewMock(),
	})
	defer b.Dispose()

	_ = b.Queue(context.Background(), NewTextMessage("A", "m", "1"))
	_ = b.Queue(context.Background(), NewTextMessage("B", "m", "2"))
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush with fallback: %v", err)
	}

	sent := tr.records()
	if len(sent) != 2 {
		t.Fatalf("fallback sent %d, want 2 individual messages", len(sent))
	}
}

// 关闭批处理时消息直发
func TestBatcherDisabledPassthrough(t *testing.T) {
	tr := &recordingTransport{}
	b := NewBatcher(tr, &BatcherCfg{Enabled: false, Clock: clock.NewMock()})
	defer b.Dispose()

	_ = b.Queue(context.Background(), NewTextMessage("T", "m", "now"))
	if len(tr.records()) != 1 {
		t.Fatalf("disabled batcher must send immediately")
	}
	if b.Stats().PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0", b.Stats().PendingCount)
	}
}

// 定时器按flush间隔自动冲刷
func TestBatcherPeriodicFlush(t *testing.T) {
	mock := clock.NewMock()
	tr := &recordingTransport{}
	b := NewBatcher(tr, &BatcherCfg{
		FlushInterval: 16 * time.Millisecond,
		Enabled:       true,
		Clock:         mock,
	})
	defer b.Dispose()

	_ = b.Queue(context.Background(), NewTextMessage("T", "m", "tick"))

	for i := 0; i < 10 && len(tr.records()) == 0; i++ {
		mock.Add(16 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	if len(tr.records()) != 1 {
		t.Fatalf("periodic flush did not fire, records = %d", len(tr.records()))
	}
}

func TestBatcherValidation(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, true)
	defer b.Dispose()

	err := b.Queue(context.Background(), NewTextMessage("", "m", "d"))
	var argErr *InvalidArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("want InvalidArgumentError, got %v", err)
	}
}

// Dispose丢弃待发消息并拒绝后续入队
func TestBatcherDisposeDiscardsPending(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, true)

	_ = b.Queue(context.Background(), NewTextMessage("T", "m", "doomed"))
	b.Dispose()

	if len(tr.records()) != 0 {
		t.Error("dispose must not flush pending messages")
	}
	if err := b.Queue(context.Background(), NewTextMessage("T", "m", "late")); err == nil {
		t.Error("queue after dispose must fail")
	}
	b.Dispose() // 重复dispose安全
}

func TestBatcherStatsAverage(t *testing.T) {
	tr := &recordingTransport{}
	b := newTestBatcher(tr, false)
	defer b.Dispose()

	for i := 0; i < 4; i++ {
		_ = b.Queue(context.Background(), NewTextMessage("T", "m"+strconv.Itoa(i), "d"))
	}
	_ = b.Flush(context.Background())

	stats := b.Stats()
	if stats.TotalQueued != 4 || stats.TotalBatches != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgPerBatch != 4 {
		t.Errorf("AvgPerBatch = %v, want 4", stats.AvgPerBatch)
	}
}
