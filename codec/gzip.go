package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// gzip stream magic bytes, RFC 1952.
const (
	gzipMagic1 = 0x1F
	gzipMagic2 = 0x8B
)

// IsGzip reports whether b starts with the gzip magic bytes.
func IsGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == gzipMagic1 && b[1] == gzipMagic2
}

// Compress gzips data unconditionally. The sniff passthrough lives only on
// the Decompress side: a payload that already looks like gzip (say a .gz
// asset) still gets wrapped here, so the receiver's single gunzip restores
// exactly the bytes the caller sent.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress gunzips data. Input without the gzip magic is passed through
// unchanged, so callers can feed it any payload and get plain bytes back.
func Decompress(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

// CompressString gzips a UTF-8 string.
func CompressString(s string) ([]byte, error) {
	return Compress([]byte(s))
}

// DecompressString gunzips data and returns the result as a string.
func DecompressString(data []byte) (string, error) {
	out, err := Decompress(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
