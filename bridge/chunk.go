package bridge

import (
	"context"
	"encoding/base64"
	"hash/crc32"
	"sync"

	"github.com/lcx/gamebridge/codec"
	"github.com/lcx/gamebridge/log"
	"github.com/lcx/gamebridge/metrics"
	"github.com/lcx/gamebridge/utils"
)

// DefaultChunkSize is the chunk payload size used when the caller does not
// override it. 64KB keeps individual channel messages comfortably under
// platform codec limits.
const DefaultChunkSize = 64 * 1024

// chunkEnvelope is the wire form of one chunk protocol message. Byte fields
// travel base64-encoded since the underlying channel is text/JSON-safe.
type chunkEnvelope struct {
	Type        string `json:"type"`
	TransferID  string `json:"transferId"`
	ChunkIndex  *int   `json:"chunkIndex,omitempty"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int    `json:"totalSize,omitempty"`
	Data        string `json:"data,omitempty"`
	Checksum    uint32 `json:"checksum,omitempty"`
	// Routing context, carried on the header so the receive side can route
	// the reassembled payload to a registered binary handler.
	Target string `json:"target,omitempty"`
	Method string `json:"method,omitempty"`
}

const (
	chunkTypeHeader = "header"
	chunkTypeData   = "data"
	chunkTypeFooter = "footer"
)

// compressedEnvelope is the direct (non-chunked) compressed transfer form
// for mid-size payloads.
type compressedEnvelope struct {
	Compressed     bool   `json:"compressed"`
	OriginalSize   int    `json:"originalSize"`
	CompressedSize int    `json:"compressedSize"`
	Data           string `json:"data"`
}

// Chunker splits oversized binary payloads into an ordered
// header/data*/footer message sequence with CRC32 integrity, and offers a
// direct gzip path for payloads not worth chunking.
type Chunker struct {
	transport Transport
	met       *metrics.BridgeMetrics
}

// NewChunker creates a chunker writing to transport. met may be nil.
func NewChunker(transport Transport, met *metrics.BridgeMetrics) *Chunker {
	if met == nil {
		met = metrics.Nop()
	}
	return &Chunker{transport: transport, met: met}
}

// SendChunked transfers data as header, ceil(len/chunkSize) data messages
// and a footer, in order. chunkSize <= 0 selects DefaultChunkSize. Returns
// the transfer id. The first transport failure aborts the transfer.
func (c *Chunker) SendChunked(ctx context.Context, target, method string, data []byte, chunkSize int) (string, error) {
	if target == "" {
		return "", &InvalidArgumentError{Field: "target", Reason: "must not be empty"}
	}
	if method == "" {
		return "", &InvalidArgumentError{Field: "method", Reason: "must not be empty"}
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	transferID := utils.NewTransferID()
	totalChunks := (len(data) + chunkSize - 1) / chunkSize
	checksum := crc32.ChecksumIEEE(data)

	header := chunkEnvelope{
		Type:        chunkTypeHeader,
		TransferID:  transferID,
		TotalChunks: totalChunks,
		TotalSize:   len(data),
		Checksum:    checksum,
		Target:      target,
		Method:      method,
	}
	if err := c.sendEnvelope(ctx, target, method, &header); err != nil {
		return transferID, err
	}

	for i := 0; i < totalChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		idx := i
		env := chunkEnvelope{
			Type:        chunkTypeData,
			TransferID:  transferID,
			ChunkIndex:  &idx,
			TotalChunks: totalChunks,
			Data:        base64.StdEncoding.EncodeToString(data[start:end]),
		}
		if err := c.sendEnvelope(ctx, target, method, &env); err != nil {
			return transferID, err
		}
		c.met.ChunksSent.Inc()
		c.met.TransferBytes.WithLabelValues("outbound").Add(float64(end - start))
	}

	footer := chunkEnvelope{
		Type:        chunkTypeFooter,
		TransferID:  transferID,
		TotalChunks: totalChunks,
		Checksum:    checksum,
	}
	if err := c.sendEnvelope(ctx, target, method, &footer); err != nil {
		return transferID, err
	}

	log.Debug().Str("transferId", transferID).Int("chunks", totalChunks).
		Int("size", len(data)).Msg("chunked transfer sent")
	return transferID, nil
}

// SendCompressed gzips data and sends it as one message tagged with the
// original and compressed sizes, skipping the chunk protocol. Preferred for
// payloads below the chunking threshold but large enough that compression
// pays for itself.
func (c *Chunker) SendCompressed(ctx context.Context, target, method string, data []byte) error {
	if target == "" {
		return &InvalidArgumentError{Field: "target", Reason: "must not be empty"}
	}
	if method == "" {
		return &InvalidArgumentError{Field: "method", Reason: "must not be empty"}
	}

	compressed, err := codec.Compress(data)
	if err != nil {
		return err
	}
	env := compressedEnvelope{
		Compressed:     true,
		OriginalSize:   len(data),
		CompressedSize: len(compressed),
		Data:           base64.StdEncoding.EncodeToString(compressed),
	}
	payload, err := codec.Encode(env)
	if err != nil {
		return err
	}
	if err := c.transport.SendRaw(ctx, target, method, payload); err != nil {
		return &TransportError{Target: target, Method: method, Err: err}
	}

	if len(data) > 0 {
		c.met.CompressionRatio.Observe(float64(len(compressed)) / float64(len(data)))
	}
	c.met.TransferBytes.WithLabelValues("outbound").Add(float64(len(compressed)))
	return nil
}

func (c *Chunker) sendEnvelope(ctx context.Context, target, method string, env *chunkEnvelope) error {
	payload, err := codec.Encode(env)
	if err != nil {
		return err
	}
	if err := c.transport.SendRaw(ctx, target, method, payload); err != nil {
		return &TransportError{Target: target, Method: method, Err: err}
	}
	return nil
}

// TransferProgress is emitted after each accepted inbound chunk.
type TransferProgress struct {
	TransferID       string
	CurrentChunk     int
	TotalChunks      int
	BytesTransferred int
	TotalBytes       int
}

// transfer tracks one in-flight inbound reassembly.
type transfer struct {
	totalChunks int
	totalSize   int
	checksum    uint32
	target      string
	method      string
	chunks      [][]byte
	received    int
	bytes       int
}

// Reassembler consumes inbound chunk protocol messages and reconstructs the
// original payload, verifying completeness and CRC32 before delivery.
// Duplicate or out-of-order chunk indices overwrite their slot
// (last-write-wins per index). The header's routing context travels with the
// transfer so delivery carries the (target, method) the sender addressed.
type Reassembler struct {
	mu        sync.Mutex
	transfers map[string]*transfer

	onPayload  func(target, method string, data []byte)
	onProgress func(p TransferProgress)
	onError    func(err error)
	met        *metrics.BridgeMetrics
}

// NewReassembler creates a reassembler delivering completed payloads to
// onPayload. onProgress and onError may be nil. met may be nil.
func NewReassembler(onPayload func(target, method string, data []byte), onProgress func(TransferProgress), onError func(error), met *metrics.BridgeMetrics) *Reassembler {
	if met == nil {
		met = metrics.Nop()
	}
	return &Reassembler{
		transfers:  make(map[string]*transfer),
		onPayload:  onPayload,
		onProgress: onProgress,
		onError:    onError,
		met:        met,
	}
}

// HandleChunk processes one serialized chunk envelope. Verification failures
// (checksum mismatch, missing chunks) discard the transfer, notify the error
// callback and return the typed error; the partial payload is never
// delivered.
func (r *Reassembler) HandleChunk(raw []byte) error {
	var env chunkEnvelope
	if err := codec.Decode(raw, &env); err != nil {
		return &InvalidArgumentError{Field: "chunk", Reason: err.Error()}
	}
	return r.handleEnvelope(&env)
}

func (r *Reassembler) handleEnvelope(env *chunkEnvelope) error {
	switch env.Type {
	case chunkTypeHeader:
		return r.handleHeader(env)
	case chunkTypeData:
		return r.handleData(env)
	case chunkTypeFooter:
		return r.handleFooter(env)
	default:
		return &InvalidArgumentError{Field: "chunk", Reason: "unknown chunk type " + env.Type}
	}
}

func (r *Reassembler) handleHeader(env *chunkEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers[env.TransferID] = &transfer{
		totalChunks: env.TotalChunks,
		totalSize:   env.TotalSize,
		checksum:    env.Checksum,
		target:      env.Target,
		method:      env.Method,
		chunks:      make([][]byte, env.TotalChunks),
	}
	log.Debug().Str("transferId", env.TransferID).Int("chunks", env.TotalChunks).
		Int("size", env.TotalSize).Msg("inbound transfer started")
	return nil
}

func (r *Reassembler) handleData(env *chunkEnvelope) error {
	if env.ChunkIndex == nil {
		return &InvalidArgumentError{Field: "chunkIndex", Reason: "missing on data chunk"}
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return &InvalidArgumentError{Field: "data", Reason: err.Error()}
	}

	r.mu.Lock()
	tr, ok := r.transfers[env.TransferID]
	if !ok {
		r.mu.Unlock()
		return &InvalidArgumentError{Field: "transferId", Reason: "unknown transfer " + env.TransferID}
	}
	idx := *env.ChunkIndex
	if idx < 0 || idx >= tr.totalChunks {
		r.mu.Unlock()
		return &InvalidArgumentError{Field: "chunkIndex", Reason: "out of range"}
	}
	if tr.chunks[idx] == nil {
		tr.received++
	} else {
		tr.bytes -= len(tr.chunks[idx])
	}
	tr.chunks[idx] = data
	tr.bytes += len(data)
	progress := TransferProgress{
		TransferID:       env.TransferID,
		CurrentChunk:     tr.received,
		TotalChunks:      tr.totalChunks,
		BytesTransferred: tr.bytes,
		TotalBytes:       tr.totalSize,
	}
	r.mu.Unlock()

	r.met.ChunksReceived.Inc()
	r.met.TransferBytes.WithLabelValues("inbound").Add(float64(len(data)))
	if r.onProgress != nil {
		r.onProgress(progress)
	}
	return nil
}

func (r *Reassembler) handleFooter(env *chunkEnvelope) error {
	r.mu.Lock()
	tr, ok := r.transfers[env.TransferID]
	if !ok {
		r.mu.Unlock()
		return &InvalidArgumentError{Field: "transferId", Reason: "unknown transfer " + env.TransferID}
	}
	delete(r.transfers, env.TransferID)
	r.mu.Unlock()

	missing := 0
	size := 0
	for _, chunk := range tr.chunks {
		if chunk == nil {
			missing++
			continue
		}
		size += len(chunk)
	}
	if missing > 0 {
		err := &IncompleteTransferError{TransferID: env.TransferID, Missing: missing, Total: tr.totalChunks}
		r.failTransfer("incomplete", err)
		return err
	}

	payload := make([]byte, 0, size)
	for _, chunk := range tr.chunks {
		payload = append(payload, chunk...)
	}

	got := crc32.ChecksumIEEE(payload)
	if got != tr.checksum {
		err := &ChecksumMismatchError{TransferID: env.TransferID, Want: tr.checksum, Got: got}
		r.failTransfer("checksum", err)
		return err
	}

	log.Debug().Str("transferId", env.TransferID).Int("size", len(payload)).
		Msg("inbound transfer verified")
	if r.onPayload != nil {
		r.onPayload(tr.target, tr.method, payload)
	}
	return nil
}

func (r *Reassembler) failTransfer(cause string, err error) {
	r.met.TransferFailures.WithLabelValues(cause).Inc()
	log.Error().Err(err).Msg("inbound transfer failed")
	if r.onError != nil {
		r.onError(err)
	}
}

// ActiveTransfers returns the number of in-flight inbound transfers.
func (r *Reassembler) ActiveTransfers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}
