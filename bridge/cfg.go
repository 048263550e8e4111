package bridge

import (
	"fmt"
	"time"
)

// BridgeCfg gathers every tunable of the transport core. It implements
// config.Config and hot-reloads through the configuration manager: the
// dispatcher rate limit and batcher flush interval apply live, structural
// settings (queue capacities, handshake budget) apply to components created
// afterwards.
type BridgeCfg struct {
	// Batching.
	MaxBatchSize     int  `mapstructure:"maxBatchSize"`
	FlushIntervalMs  int  `mapstructure:"flushIntervalMs"`
	EnableBatching   bool `mapstructure:"enableBatching"`
	EnableCoalescing bool `mapstructure:"enableCoalescing"`

	// Chunked transfer.
	ChunkSize int `mapstructure:"chunkSize"`

	// Handshake.
	HandshakeMaxAttempts int `mapstructure:"handshakeMaxAttempts"`
	HandshakeBaseDelayMs int `mapstructure:"handshakeBaseDelayMs"`
	QueueCapacity        int `mapstructure:"queueCapacity"`

	// Inbound dispatch.
	RecvRateLimit       int    `mapstructure:"recvRateLimit"`
	TokenBurst          int    `mapstructure:"tokenBurst"`
	RecvLimiterType     string `mapstructure:"recvLimiterType"`
	EventBufferCapacity int    `mapstructure:"eventBufferCapacity"`
}

// DefaultBridgeCfg returns the production defaults.
func DefaultBridgeCfg() *BridgeCfg {
	return &BridgeCfg{
		MaxBatchSize:         defaultMaxBatchSize,
		FlushIntervalMs:      16,
		EnableBatching:       true,
		EnableCoalescing:     true,
		ChunkSize:            DefaultChunkSize,
		HandshakeMaxAttempts: defaultMaxAttempts,
		HandshakeBaseDelayMs: 50,
		QueueCapacity:        defaultQueueCapacity,
		RecvRateLimit:        10000,
		TokenBurst:           100,
		RecvLimiterType:      RecvLimiterToken,
		EventBufferCapacity:  defaultEventBufferCap,
	}
}

// GetName implements the config.Config interface.
func (c *BridgeCfg) GetName() string {
	return "bridge"
}

// Validate implements the config.Config interface.
func (c *BridgeCfg) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("bridge: maxBatchSize must be positive")
	}
	if c.FlushIntervalMs <= 0 {
		return fmt.Errorf("bridge: flushIntervalMs must be positive")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("bridge: chunkSize must be positive")
	}
	if c.HandshakeMaxAttempts <= 0 {
		return fmt.Errorf("bridge: handshakeMaxAttempts must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("bridge: queueCapacity must be positive")
	}
	if c.RecvRateLimit <= 0 || c.TokenBurst <= 0 {
		return fmt.Errorf("bridge: recvRateLimit and tokenBurst must be positive")
	}
	switch c.RecvLimiterType {
	case "", RecvLimiterToken, RecvLimiterFunnel:
	default:
		return fmt.Errorf("bridge: unknown recvLimiterType %q", c.RecvLimiterType)
	}
	return nil
}

// FlushInterval returns the batch flush window as a duration.
func (c *BridgeCfg) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// HandshakeBaseDelay returns the first backoff delay as a duration.
func (c *BridgeCfg) HandshakeBaseDelay() time.Duration {
	return time.Duration(c.HandshakeBaseDelayMs) * time.Millisecond
}
