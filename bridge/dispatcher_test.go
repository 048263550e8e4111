package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/lcx/gamebridge/codec"
)

func TestDispatcherBuffersUntilReady(t *testing.T) {
	d := NewEventDispatcher(nil, nil)

	var received []Message
	d.SetMessageHandler(func(msg Message) { received = append(received, msg) })

	for i := 1; i <= 3; i++ {
		err := d.OnEngineEvent("message", map[string]any{
			"target": "GameManager", "method": "m", "data": "e" + strconv.Itoa(i),
		})
		if err != nil {
			t.Fatalf("OnEngineEvent: %v", err)
		}
	}
	if len(received) != 0 {
		t.Fatal("events must buffer before MarkReady")
	}
	if d.BufferedCount() != 3 {
		t.Fatalf("BufferedCount = %d, want 3", d.BufferedCount())
	}

	d.MarkReady()
	if len(received) != 3 {
		t.Fatalf("delivered %d, want 3", len(received))
	}
	// FIFO顺序
	for i, msg := range received {
		if msg.Text != "e"+strconv.Itoa(i+1) {
			t.Errorf("order[%d] = %s", i, msg.Text)
		}
	}

	// 就绪后直接投递
	_ = d.OnEngineEvent("message", map[string]any{"target": "T", "method": "m", "data": "direct"})
	if len(received) != 4 {
		t.Fatal("post-ready event must deliver immediately")
	}
}

func TestDispatcherBufferOverflow(t *testing.T) {
	d := NewEventDispatcher(&DispatcherCfg{RecvRateLimit: 10000, TokenBurst: 100, BufferCapacity: 10}, nil)

	var received []Message
	d.SetMessageHandler(func(msg Message) { received = append(received, msg) })

	for i := 1; i <= 15; i++ {
		_ = d.OnEngineEvent("message", map[string]any{
			"target": "T", "method": "m", "data": strconv.Itoa(i),
		})
	}
	d.MarkReady()

	if len(received) != 10 {
		t.Fatalf("delivered %d, want 10", len(received))
	}
	if received[0].Text != "6" {
		t.Errorf("oldest surviving = %s, want 6", received[0].Text)
	}
}

func TestDispatcherUnknownKindRejected(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	if err := d.OnEngineEvent("teleport", nil); err == nil {
		t.Fatal("unknown kind must be rejected at the boundary")
	}
}

func TestDispatcherBinarySniffDecompress(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var got []byte
	d.SetBinaryHandler(func(data []byte) { got = data })

	plain := []byte("uncompressed payload")
	compressed, err := codec.Compress(bytes.Repeat([]byte("z"), 500))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	// 压缩载荷解压后投递
	_ = d.OnEngineEvent("binaryMessage", map[string]any{
		"data": base64.StdEncoding.EncodeToString(compressed),
	})
	if !bytes.Equal(got, bytes.Repeat([]byte("z"), 500)) {
		t.Error("compressed payload should be inflated before delivery")
	}

	// 未压缩载荷原样透传
	_ = d.OnEngineEvent("binaryMessage", map[string]any{
		"data": base64.StdEncoding.EncodeToString(plain),
	})
	if !bytes.Equal(got, plain) {
		t.Error("plain payload should pass through unchanged")
	}
}

// gzip形状的二进制载荷(比如.gz资产)必须原样到达:
// 发送侧无条件包装一层,接收侧的单次解压正好还原
func TestDispatcherGzipShapedPayloadIntact(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var got []byte
	d.SetBinaryHandler(func(data []byte) { got = data })

	asset, err := codec.Compress(bytes.Repeat([]byte("asset "), 200))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	wrapped, err := codec.Compress(asset)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	_ = d.OnEngineEvent("binaryMessage", map[string]any{
		"data": base64.StdEncoding.EncodeToString(wrapped),
	})
	if !bytes.Equal(got, asset) {
		t.Errorf("delivered %d bytes, want the %d byte gzip asset unchanged", len(got), len(asset))
	}
}

// 带路由上下文的二进制消息同时送达原始handler与路由钩子
func TestDispatcherBinaryRouting(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var raw []byte
	d.SetBinaryHandler(func(data []byte) { raw = data })
	var routedTarget, routedMethod string
	var routed []byte
	d.SetBinaryRouter(func(target, method string, data []byte) {
		routedTarget, routedMethod, routed = target, method, data
	})

	payload := []byte("routed binary")
	_ = d.OnEngineEvent("binaryMessage", map[string]any{
		"target": "Loader", "method": "onAsset",
		"data": base64.StdEncoding.EncodeToString(payload),
	})
	if !bytes.Equal(raw, payload) || !bytes.Equal(routed, payload) {
		t.Fatalf("raw = %q, routed = %q", raw, routed)
	}
	if routedTarget != "Loader" || routedMethod != "onAsset" {
		t.Errorf("route = %s/%s", routedTarget, routedMethod)
	}

	// 无路由上下文时只走原始handler
	routed = nil
	_ = d.OnEngineEvent("binaryMessage", map[string]any{
		"data": base64.StdEncoding.EncodeToString(payload),
	})
	if routed != nil {
		t.Error("context-free payload must not hit the router")
	}
}

func TestDispatcherFunnelLimiterDelivers(t *testing.T) {
	d := NewEventDispatcher(&DispatcherCfg{
		RecvRateLimit: 10000, TokenBurst: 1, RecvLimiterType: RecvLimiterFunnel,
	}, nil)
	d.MarkReady()

	var received int
	d.SetMessageHandler(func(Message) { received++ })

	for i := 0; i < 5; i++ {
		if err := d.OnEngineEvent("message", map[string]any{
			"target": "T", "method": "m", "data": "x",
		}); err != nil {
			t.Fatalf("OnEngineEvent: %v", err)
		}
	}
	if received != 5 {
		t.Fatalf("delivered = %d, want 5", received)
	}
}

func TestDispatcherChunkRouting(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var got []byte
	d.SetBinaryHandler(func(data []byte) { got = data })
	var progressEvents int
	d.SetProgressHandler(func(TransferProgress) { progressEvents++ })

	// 通过chunker生成信封,再作为platform事件喂入
	data := []byte("chunked binary payload for dispatch")
	var payloads []map[string]any
	capture := TransportFunc(func(_ context.Context, _, _ string, payload []byte) error {
		var m map[string]any
		if err := codec.Decode(payload, &m); err != nil {
			return err
		}
		payloads = append(payloads, m)
		return nil
	})
	if _, err := NewChunker(capture, nil).SendChunked(context.Background(), "T", "m", data, 8); err != nil {
		t.Fatalf("SendChunked: %v", err)
	}

	for _, p := range payloads {
		if err := d.OnEngineEvent("binaryChunk", p); err != nil {
			t.Fatalf("OnEngineEvent: %v", err)
		}
	}
	if !bytes.Equal(got, data) {
		t.Errorf("reassembled = %q, want %q", got, data)
	}
	if progressEvents == 0 {
		t.Error("chunk traffic should emit progress events")
	}
}

func TestDispatcherSceneAndLifecycle(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var scene string
	d.SetSceneLoadedHandler(func(s string) { scene = s })
	var lifecycle map[string]any
	d.SetLifecycleHandler(func(p map[string]any) { lifecycle = p })

	_ = d.OnEngineEvent("sceneLoaded", map[string]any{"sceneName": "Level01"})
	if scene != "Level01" {
		t.Errorf("scene = %s", scene)
	}
	_ = d.OnEngineEvent("lifecycle", map[string]any{"state": "paused"})
	if lifecycle["state"] != "paused" {
		t.Errorf("lifecycle = %v", lifecycle)
	}
}

func TestDispatcherErrorEvents(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var got error
	d.SetErrorHandler(func(err error) { got = err })

	_ = d.OnEngineEvent("error", map[string]any{"message": "engine crashed"})
	if got == nil {
		t.Fatal("error event must reach the error handler")
	}
}

func TestDispatcherCustomFilter(t *testing.T) {
	d := NewEventDispatcher(nil, nil)
	d.MarkReady()

	var delivered int
	d.SetMessageHandler(func(Message) { delivered++ })

	// 过滤器拦截method为"blocked"的消息
	d.RegFilter(func(e *EngineEvent, next EventFilterHandleFunc) error {
		if m, _ := e.Payload["method"].(string); m == "blocked" {
			return nil
		}
		return next(e)
	})

	_ = d.OnEngineEvent("message", map[string]any{"target": "T", "method": "blocked", "data": "x"})
	_ = d.OnEngineEvent("message", map[string]any{"target": "T", "method": "ok", "data": "y"})
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
}

func TestEngineEventKindRoundTrip(t *testing.T) {
	kinds := []EngineEventKind{
		EventMessage, EventBinaryMessage, EventBinaryChunk,
		EventBinaryProgress, EventSceneLoaded, EventLifecycle, EventError,
	}
	for _, k := range kinds {
		parsed, err := ParseEngineEventKind(k.String())
		if err != nil {
			t.Errorf("ParseEngineEventKind(%s): %v", k, err)
		}
		if parsed != k {
			t.Errorf("round trip %v != %v", parsed, k)
		}
	}
	if _, err := ParseEngineEventKind("bogus"); err == nil {
		t.Error("bogus kind must fail")
	}
}
