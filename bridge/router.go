package bridge

import (
	"sync"

	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/utils"
)

const defaultRouterQueueCap = 1000

// MethodHandler handles a routed text message.
type MethodHandler func(method string, data string)

// BinaryMethodHandler handles a routed binary message.
type BinaryMethodHandler func(method string, data []byte)

// RouterStatistics is a snapshot of router counters.
type RouterStatistics struct {
	MessagesRouted    uint64
	MessagesDropped   uint64
	RegisteredTargets int
	CachedHandlers    int
	QueuedMessages    int
}

type queuedRoute struct {
	target   string
	method   string
	data     string
	isBinary bool
	binary   []byte
}

// Router dispatches inbound messages to per-(target, method) handlers
// registered by application code. Messages for targets with no registered
// handler are queued (bounded, oldest dropped) until a matching handler
// appears, absorbing the window where the engine starts talking before game
// objects finish registering.
type Router struct {
	mu sync.Mutex

	targets        map[string]struct{}
	handlers       map[string]MethodHandler
	binaryHandlers map[string]BinaryMethodHandler

	queue           []queuedRoute
	maxQueueSize    int
	queueUnknown    bool
	messagesRouted  uint64
	messagesDropped uint64
}

// NewRouter creates a router that queues messages for unknown targets.
func NewRouter() *Router {
	return &Router{
		targets:        make(map[string]struct{}),
		handlers:       make(map[string]MethodHandler),
		binaryHandlers: make(map[string]BinaryMethodHandler),
		maxQueueSize:   defaultRouterQueueCap,
		queueUnknown:   true,
	}
}

// SetQueueUnknownTargets toggles queuing of messages for unregistered targets.
// When off, such messages are counted as dropped.
func (r *Router) SetQueueUnknownTargets(enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueUnknown = enable
}

// SetMaxQueueSize bounds the unknown-target queue.
func (r *Router) SetMaxQueueSize(size int) {
	if size <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxQueueSize = size
}

// RegisterTarget announces that a target exists. Queued messages for it are
// delivered (in arrival order) as soon as matching method handlers exist.
func (r *Router) RegisterTarget(name string) {
	r.mu.Lock()
	r.targets[name] = struct{}{}
	r.mu.Unlock()
	r.FlushQueue()
}

// UnregisterTarget removes a target and all its method handlers.
func (r *Router) UnregisterTarget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, name)
	for key := range r.handlers {
		if t, _ := utils.SplitRouteKey(key); t == name {
			delete(r.handlers, key)
		}
	}
	for key := range r.binaryHandlers {
		if t, _ := utils.SplitRouteKey(key); t == name {
			delete(r.binaryHandlers, key)
		}
	}
}

// IsTargetRegistered reports whether a target is known.
func (r *Router) IsTargetRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.targets[name]
	return ok
}

// RegisterMethod installs a handler for (target, method) and implicitly
// registers the target. Queued messages matching the route are delivered.
func (r *Router) RegisterMethod(target, method string, h MethodHandler) {
	r.mu.Lock()
	r.targets[target] = struct{}{}
	r.handlers[utils.RouteKey(target, method)] = h
	r.mu.Unlock()
	r.FlushQueue()
}

// RegisterBinaryMethod installs a binary handler for (target, method).
func (r *Router) RegisterBinaryMethod(target, method string, h BinaryMethodHandler) {
	r.mu.Lock()
	r.targets[target] = struct{}{}
	r.binaryHandlers[utils.RouteKey(target, method)] = h
	r.mu.Unlock()
	r.FlushQueue()
}

// UnregisterMethod removes the handlers for (target, method).
func (r *Router) UnregisterMethod(target, method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := utils.RouteKey(target, method)
	delete(r.handlers, key)
	delete(r.binaryHandlers, key)
}

// RouteMessage delivers a text message to its handler. Unroutable messages
// are queued (if enabled) or dropped. Returns true when a handler ran.
func (r *Router) RouteMessage(target, method, data string) bool {
	r.mu.Lock()
	h, ok := r.handlers[utils.RouteKey(target, method)]
	if ok {
		r.messagesRouted++
		r.mu.Unlock()
		h(method, data)
		return true
	}
	r.queueOrDropLocked(queuedRoute{target: target, method: method, data: data})
	r.mu.Unlock()
	return false
}

// RouteBinaryMessage delivers a binary message to its handler.
func (r *Router) RouteBinaryMessage(target, method string, data []byte) bool {
	r.mu.Lock()
	h, ok := r.binaryHandlers[utils.RouteKey(target, method)]
	if ok {
		r.messagesRouted++
		r.mu.Unlock()
		h(method, data)
		return true
	}
	r.queueOrDropLocked(queuedRoute{target: target, method: method, isBinary: true, binary: data})
	r.mu.Unlock()
	return false
}

// queueOrDropLocked stores an unroutable message or counts it dropped.
// Caller holds r.mu.
func (r *Router) queueOrDropLocked(q queuedRoute) {
	if !r.queueUnknown {
		r.messagesDropped++
		return
	}
	if len(r.queue) >= r.maxQueueSize {
		r.queue = r.queue[1:]
		r.messagesDropped++
		log.Warn().Str("target", q.target).Msg("router queue full, evicting oldest")
	}
	r.queue = append(r.queue, q)
}

// FlushQueue re-attempts delivery of queued messages in arrival order.
// Messages still unroutable stay queued.
func (r *Router) FlushQueue() {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, q := range pending {
		r.mu.Lock()
		key := utils.RouteKey(q.target, q.method)
		if q.isBinary {
			if h, ok := r.binaryHandlers[key]; ok {
				r.messagesRouted++
				r.mu.Unlock()
				h(q.method, q.binary)
				continue
			}
		} else {
			if h, ok := r.handlers[key]; ok {
				r.messagesRouted++
				r.mu.Unlock()
				h(q.method, q.data)
				continue
			}
		}
		r.queue = append(r.queue, q)
		r.mu.Unlock()
	}
}

// ClearQueue discards all queued messages without delivering them.
func (r *Router) ClearQueue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messagesDropped += uint64(len(r.queue))
	r.queue = nil
}

// Statistics returns a snapshot of router counters.
func (r *Router) Statistics() RouterStatistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RouterStatistics{
		MessagesRouted:    r.messagesRouted,
		MessagesDropped:   r.messagesDropped,
		RegisteredTargets: len(r.targets),
		CachedHandlers:    len(r.handlers) + len(r.binaryHandlers),
		QueuedMessages:    len(r.queue),
	}
}

// ResetStatistics zeroes the routed/dropped counters.
func (r *Router) ResetStatistics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messagesRouted = 0
	r.messagesDropped = 0
}
