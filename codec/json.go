package codec

import "encoding/json"

// JSONCodec serializes values as UTF-8 JSON. It is the default codec:
// every envelope crossing the platform channel is JSON so both sides can
// parse it without a schema registry.
type JSONCodec struct{}

// Encode marshals v to JSON.
func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals b into v.
func (c *JSONCodec) Decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
