package transaction

import "time"

// Config is the transaction layer's single configuration object (§6: no
// CLI, files, or environment variables are part of the core surface).
// The zero value is not ready to use; call [DefaultConfig] and override
// individual fields.
type Config struct {
	// Timings holds the RFC 3261 base timer values.
	Timings TimingConfig
	// DiscardStrayResponses controls the stray-response policy (§4.6).
	// Default true.
	DiscardStrayResponses bool
	// SendTryingDelay is how long a server INVITE transaction waits for the
	// TU to emit a provisional response before auto-sending 100 Trying.
	// Default 200ms.
	SendTryingDelay time.Duration
	// InputQueueSize sizes the dispatcher's input channel buffer.
	InputQueueSize int
}

// DefaultConfig returns the RFC 3261 default configuration.
func DefaultConfig() Config {
	return Config{
		Timings:               TimingConfig{},
		DiscardStrayResponses: true,
		SendTryingDelay:       DefaultTrying,
		InputQueueSize:        256,
	}
}

func (c Config) tryingDelay() time.Duration {
	if c.SendTryingDelay > 0 {
		return c.SendTryingDelay
	}
	return DefaultTrying
}

func (c Config) inputQueueSize() int {
	if c.InputQueueSize > 0 {
		return c.InputQueueSize
	}
	return 256
}
