package bridge

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// recvLimiter is the surface the dispatcher needs from either limiting
// algorithm: a filter for the inbound chain and a hot-reload entry point.
// The funnel algorithm has no burst notion and ignores that argument.
type recvLimiter interface {
	recvLimiterFilter(e *EngineEvent, next EventFilterHandleFunc) error
	reload(limit int, burst int)
}

// TokenRecvLimiter applies a token bucket to inbound engine events, shielding
// the host loop from an engine that floods the channel. The limiter pointer
// is swapped atomically so configuration reloads never race with Take.
type TokenRecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewTokenRecvLimiter creates a token bucket limiter allowing limit events
// per second with the given burst.
func NewTokenRecvLimiter(limit int, burst int) *TokenRecvLimiter {
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	if limiter == nil {
		return nil
	}
	l := &TokenRecvLimiter{}
	l.limiter.Store(limiter)
	return l
}

// Take blocks until a token is available or ctx is canceled.
func (l *TokenRecvLimiter) Take(ctx context.Context) error {
	return l.limiter.Load().Wait(ctx)
}

// Reload replaces the limiter configuration at runtime.
func (l *TokenRecvLimiter) Reload(limit int, burst int) {
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	if limiter == nil {
		return
	}
	l.limiter.Store(limiter)
}

// recvLimiterFilter bridges the limiter into the dispatcher filter chain.
func (l *TokenRecvLimiter) recvLimiterFilter(e *EngineEvent, next EventFilterHandleFunc) error {
	if err := l.Take(context.Background()); err != nil {
		return err
	}
	return next(e)
}

func (l *TokenRecvLimiter) reload(limit int, burst int) {
	l.Reload(limit, burst)
}

// FunnelRecvLimiter is the leaky bucket alternative: instead of allowing
// bursts it spaces events evenly, which gives more deterministic pacing for
// per-frame engine traffic.
type FunnelRecvLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelRecvLimiter creates a leaky bucket limiter allowing limit events
// per second.
func NewFunnelRecvLimiter(limit int) *FunnelRecvLimiter {
	limiter := ratelimit.New(limit)
	if limiter == nil {
		return nil
	}
	l := &FunnelRecvLimiter{}
	l.limiter.Store(&limiter)
	return l
}

// Take blocks until the leaky bucket admits the next event.
func (l *FunnelRecvLimiter) Take() {
	_ = (*l.limiter.Load()).Take()
}

// Reload replaces the limiter configuration at runtime.
func (l *FunnelRecvLimiter) Reload(limit int) {
	limiter := ratelimit.New(limit)
	if limiter == nil {
		return
	}
	l.limiter.Store(&limiter)
}

// recvLimiterFilter bridges the limiter into the dispatcher filter chain.
func (l *FunnelRecvLimiter) recvLimiterFilter(e *EngineEvent, next EventFilterHandleFunc) error {
	l.Take()
	return next(e)
}

func (l *FunnelRecvLimiter) reload(limit int, _ int) {
	l.Reload(limit)
}
