package bridge

// EventFilterHandleFunc processes one inbound engine event, typically the
// tail of a filter chain.
type EventFilterHandleFunc func(e *EngineEvent) error

// EventFilter is an interceptor inserted into the inbound dispatch pipeline.
// Filters carry cross-cutting concerns (rate limiting, logging, validation)
// applied uniformly to every inbound event; a filter decides whether to call
// the next handler or terminate the chain.
type EventFilter func(e *EngineEvent, next EventFilterHandleFunc) error

// EventFilterChain processes events through a filter pipeline. The chain is
// walked recursively: each filter receives a closure handling the remainder.
type EventFilterChain []EventFilter

// Handle runs the event through the chain, ending at f. An empty chain calls
// f directly.
func (fc EventFilterChain) Handle(e *EngineEvent, f EventFilterHandleFunc) error {
	if len(fc) == 0 {
		return f(e)
	}
	return fc[0](e, func(e *EngineEvent) error {
		return fc[1:].Handle(e, f)
	})
}
