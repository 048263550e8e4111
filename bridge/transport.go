package bridge

import (
	"context"
	"fmt"
)

// Transport is the raw send primitive supplied by the platform layer.
// Implementations must preserve ordering for messages on a given channel;
// the chunk protocol depends on it.
type Transport interface {
	// SendRaw hands one payload to the platform channel. Payload bytes are
	// UTF-8 text or JSON; binary data is base64-encoded before reaching here.
	SendRaw(ctx context.Context, target, method string, payload []byte) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, target, method string, payload []byte) error

func (f TransportFunc) SendRaw(ctx context.Context, target, method string, payload []byte) error {
	return f(ctx, target, method, payload)
}

// EngineEventKind is the closed set of inbound event categories. Event kind
// strings are decoded once at the platform boundary; everything past the
// dispatcher switches on this enum, never on strings.
type EngineEventKind uint8

const (
	EventMessage EngineEventKind = iota
	EventBinaryMessage
	EventBinaryChunk
	EventBinaryProgress
	EventSceneLoaded
	EventLifecycle
	EventError
)

// String returns the wire name of the event kind.
func (k EngineEventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventBinaryMessage:
		return "binaryMessage"
	case EventBinaryChunk:
		return "binaryChunk"
	case EventBinaryProgress:
		return "binaryProgress"
	case EventSceneLoaded:
		return "sceneLoaded"
	case EventLifecycle:
		return "lifecycle"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseEngineEventKind decodes a wire kind string.
func ParseEngineEventKind(s string) (EngineEventKind, error) {
	switch s {
	case "message":
		return EventMessage, nil
	case "binaryMessage":
		return EventBinaryMessage, nil
	case "binaryChunk":
		return EventBinaryChunk, nil
	case "binaryProgress":
		return EventBinaryProgress, nil
	case "sceneLoaded":
		return EventSceneLoaded, nil
	case "lifecycle":
		return EventLifecycle, nil
	case "error":
		return EventError, nil
	default:
		return 0, &InvalidArgumentError{Field: "kind", Reason: "unknown event kind " + s}
	}
}

// EngineEvent is one inbound event from the platform layer, decoded at the
// boundary.
type EngineEvent struct {
	Kind    EngineEventKind
	Payload map[string]any
}
