package bridge

import (
	"fmt"
	"sync"
)

// ControllerRegistry maps engine view handles to their controllers. Native
// glue that can only carry an integer handle across the FFI boundary looks
// the controller up here. The registry is owned by the plugin's top-level
// lifecycle: attach on view creation, detach on destruction.
type ControllerRegistry struct {
	mu          sync.RWMutex
	controllers map[int64]*Controller
}

// NewControllerRegistry creates an empty registry.
func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{controllers: make(map[int64]*Controller)}
}

// Attach registers a controller under handle. Attaching an occupied handle
// is an error; detach the old controller first.
func (r *ControllerRegistry) Attach(handle int64, c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.controllers[handle]; exists {
		return fmt.Errorf("bridge: handle %d already attached", handle)
	}
	r.controllers[handle] = c
	return nil
}

// Detach removes and returns the controller for handle. The caller decides
// whether to dispose it. Returns nil if the handle is unknown.
func (r *ControllerRegistry) Detach(handle int64) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.controllers[handle]
	delete(r.controllers, handle)
	return c
}

// Get returns the controller for handle, or nil.
func (r *ControllerRegistry) Get(handle int64) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controllers[handle]
}

// Count returns the number of attached controllers.
func (r *ControllerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// DetachAll removes every controller, disposing each, for plugin teardown.
func (r *ControllerRegistry) DetachAll() {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[int64]*Controller)
	r.mu.Unlock()

	for _, c := range controllers {
		c.Dispose()
	}
}
