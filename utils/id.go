// Package utils provides small shared helpers for the gamebridge framework.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var _transferSeq uint64

// NewTransferID generates a unique identifier for an in-flight binary transfer.
// The identifier combines random bytes with a process-local sequence number so
// that concurrent transfers from the same controller never collide, even when
// the random source is exhausted or degraded.
//
// Returns:
//   - A unique transfer identifier string, e.g. "a3f1c09b5d2e4477-12"
func NewTransferID() string {
	var b [8]byte
	seq := atomic.AddUint64(&_transferSeq, 1)
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a time-based prefix; the sequence suffix keeps it unique
		// within this process.
		return strconv.FormatInt(time.Now().UnixNano(), 16) + "-" + strconv.FormatUint(seq, 10)
	}
	return hex.EncodeToString(b[:]) + "-" + strconv.FormatUint(seq, 10)
}

// RouteKey builds the canonical "target:method" key used by the throttler,
// the batcher's coalescing map and the inbound router delegate cache.
// Both halves of the key are preserved verbatim; the separator is a colon,
// matching the wire-level routing convention.
func RouteKey(target, method string) string {
	var sb strings.Builder
	sb.Grow(len(target) + len(method) + 1)
	_, _ = sb.WriteString(target)
	_, _ = sb.WriteString(":")
	_, _ = sb.WriteString(method)
	return sb.String()
}

// SplitRouteKey splits a "target:method" key back into its halves.
// The method part may itself contain colons; only the first separator counts.
func SplitRouteKey(key string) (target, method string) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
