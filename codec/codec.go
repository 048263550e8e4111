// Package codec provides the serialization and compression primitives used
// by the bridge wire protocol.
package codec

import (
	"errors"
)

var (
	errCodecNotInit = errors.New("codec not init")

	_codec Codec = &JSONCodec{}
)

// Codec 编解码器.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte, v any) error
}

// Encode 打包.
func Encode(v any) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Encode(v)
}

// Decode 解包.
func Decode(b []byte, v any) error {
	if _codec == nil {
		return errCodecNotInit
	}
	return _codec.Decode(b, v)
}

// SetCodec 设置编解码器.
func SetCodec(c Codec) {
	_codec = c
}
