package bridge

import (
	"context"
	"sync"
	"testing"
	"time"
)

// 令牌桶:突发额度内的请求立即通过
func TestTokenRecvLimiterBasic(t *testing.T) {
	limiter := NewTokenRecvLimiter(10, 5)
	if limiter == nil {
		t.Fatal("Failed to create token limiter")
	}

	for i := 0; i < 5; i++ {
		if err := limiter.Take(context.Background()); err != nil {
			t.Errorf("Failed to take token %d: %v", i, err)
		}
	}
}

func TestTokenRecvLimiterReload(t *testing.T) {
	limiter := NewTokenRecvLimiter(10, 5)
	if limiter == nil {
		t.Fatal("Failed to create token limiter")
	}

	for i := 0; i < 5; i++ {
		if err := limiter.Take(context.Background()); err != nil {
			t.Errorf("Failed to take initial token %d: %v", i, err)
		}
	}

	// 提高配额后应当立即有新的突发额度
	limiter.Reload(20, 10)
	for i := 0; i < 10; i++ {
		if err := limiter.Take(context.Background()); err != nil {
			t.Errorf("Failed to take reloaded token %d: %v", i, err)
		}
	}
}

func TestTokenRecvLimiterContextCancellation(t *testing.T) {
	limiter := NewTokenRecvLimiter(1, 1)
	if limiter == nil {
		t.Fatal("Failed to create token limiter")
	}

	if err := limiter.Take(context.Background()); err != nil {
		t.Fatalf("Failed to take initial token: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Take(ctx); err == nil {
		t.Error("Take with canceled context should fail")
	}
}

func TestTokenRecvLimiterFilterIntegration(t *testing.T) {
	limiter := NewTokenRecvLimiter(1000, 10)
	if limiter == nil {
		t.Fatal("Failed to create token limiter")
	}

	handlerCalled := 0
	handler := func(e *EngineEvent) error {
		handlerCalled++
		return nil
	}
	event := &EngineEvent{Kind: EventMessage, Payload: map[string]any{"target": "T"}}

	for i := 0; i < 2; i++ {
		if err := limiter.recvLimiterFilter(event, handler); err != nil {
			t.Errorf("Request %d should pass: %v", i, err)
		}
	}
	if handlerCalled != 2 {
		t.Errorf("Handler should be called 2 times, got %d", handlerCalled)
	}
}

// 漏桶:均匀排队,全部通过
func TestFunnelRecvLimiterBasic(t *testing.T) {
	limiter := NewFunnelRecvLimiter(1000)
	if limiter == nil {
		t.Fatal("Failed to create funnel limiter")
	}

	start := time.Now()
	for i := 0; i < 20; i++ {
		limiter.Take()
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("Requests took too long: %v", d)
	}
}

func TestFunnelRecvLimiterReload(t *testing.T) {
	limiter := NewFunnelRecvLimiter(100)
	if limiter == nil {
		t.Fatal("Failed to create funnel limiter")
	}

	for i := 0; i < 5; i++ {
		limiter.Take()
	}

	limiter.Reload(10000)
	start := time.Now()
	for i := 0; i < 20; i++ {
		limiter.Take()
	}
	if d := time.Since(start); d > 1*time.Second {
		t.Errorf("Reloaded limiter too slow: %v", d)
	}
}

func TestFunnelRecvLimiterFilterIntegration(t *testing.T) {
	limiter := NewFunnelRecvLimiter(1000)
	if limiter == nil {
		t.Fatal("Failed to create funnel limiter")
	}

	handlerCalled := 0
	handler := func(e *EngineEvent) error {
		handlerCalled++
		return nil
	}
	event := &EngineEvent{Kind: EventMessage}

	for i := 0; i < 3; i++ {
		if err := limiter.recvLimiterFilter(event, handler); err != nil {
			t.Errorf("Request %d should pass: %v", i, err)
		}
	}
	if handlerCalled != 3 {
		t.Errorf("Handler should be called 3 times, got %d", handlerCalled)
	}
}

func TestRecvLimiterConcurrent(t *testing.T) {
	limiter := NewTokenRecvLimiter(100, 50)
	if limiter == nil {
		t.Fatal("Failed to create token limiter")
	}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := limiter.Take(context.Background()); err != nil {
					errs[idx] = err
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Goroutine %d encountered error: %v", i, err)
		}
	}
}
