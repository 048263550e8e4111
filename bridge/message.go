package bridge

import (
	"time"

	"github.com/lcx/gamebridge/codec"
	"github.com/lcx/gamebridge/utils"
)

// PayloadKind discriminates the two payload shapes a Message may carry.
type PayloadKind uint8

const (
	// PayloadText is a plain UTF-8 string payload.
	PayloadText PayloadKind = iota
	// PayloadJSON is a finite, JSON-representable mapping.
	PayloadJSON
)

// Wire tags for the payload kind inside batch envelopes.
const (
	dataTypeText = "s"
	dataTypeJSON = "j"
)

// Message is the unit of application-level communication with the engine.
// Target names the logical receiver inside the engine, Method the operation.
type Message struct {
	Target    string
	Method    string
	Kind      PayloadKind
	Text      string
	Object    map[string]any
	Timestamp time.Time
}

// NewTextMessage creates a string-payload message stamped with the current time.
func NewTextMessage(target, method, text string) Message {
	return Message{
		Target:    target,
		Method:    method,
		Kind:      PayloadText,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewJSONMessage creates a structured-payload message stamped with the current time.
func NewJSONMessage(target, method string, obj map[string]any) Message {
	return Message{
		Target:    target,
		Method:    method,
		Kind:      PayloadJSON,
		Object:    obj,
		Timestamp: time.Now(),
	}
}

// Validate rejects malformed messages before any transport interaction.
func (m *Message) Validate() error {
	if m.Target == "" {
		return &InvalidArgumentError{Field: "target", Reason: "must not be empty"}
	}
	if m.Method == "" {
		return &InvalidArgumentError{Field: "method", Reason: "must not be empty"}
	}
	if m.Kind == PayloadJSON {
		// Cycles or unencodable values surface here, not at send time.
		if _, err := codec.Encode(m.Object); err != nil {
			return &InvalidArgumentError{Field: "payload", Reason: err.Error()}
		}
	}
	return nil
}

// RouteKey returns the coalescing/throttling key "target:method".
func (m *Message) RouteKey() string {
	return utils.RouteKey(m.Target, m.Method)
}

// EncodePayload serializes the payload for the wire and tags its kind.
// Returns the data string and "s" for text or "j" for JSON.
func (m *Message) EncodePayload() (string, string, error) {
	if m.Kind == PayloadText {
		return m.Text, dataTypeText, nil
	}
	b, err := codec.Encode(m.Object)
	if err != nil {
		return "", "", &InvalidArgumentError{Field: "payload", Reason: err.Error()}
	}
	return string(b), dataTypeJSON, nil
}

// batchEntryWire is one message inside a batch envelope.
type batchEntryWire struct {
	Target   string `json:"t"`
	Method   string `json:"m"`
	Data     string `json:"d"`
	DataType string `json:"dt"`
}

// batchEnvelope is the single transport payload carrying a flushed batch.
type batchEnvelope struct {
	Batch    bool             `json:"batch"`
	Count    int              `json:"count"`
	Messages []batchEntryWire `json:"messages"`
}
