// Package config holds the small, code-facing configuration structs that
// in-process components need. Project-directory discovery and on-disk
// config-file parsing are external collaborators (see spec.md and
// SPEC_FULL.md) and are not modeled here.
package config

// Severity levels accepted by SetLoggingLevel, ordered from most to least
// verbose.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// QueueConfig controls the bounded opcode queue (spec.md 4.F).
type QueueConfig struct {
	// Capacity is the maximum number of buffered opcodes. Defaults to 10000
	// per spec.md 4.F.
	Capacity int
}

// DefaultQueueConfig returns the spec-mandated default capacity.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Capacity: 10000}
}

// ApplierConfig controls the patch applier's retry and drain behavior
// (spec.md 4.G, 5).
type ApplierConfig struct {
	// MaxAttempts bounds retries for a transient patch-store error before the
	// opcode is logged and discarded to the dead-letter buffer.
	MaxAttempts int

	// InitialBackoffMS is the first retry delay; each subsequent attempt
	// doubles it.
	InitialBackoffMS int

	// DeadLetterCapacity bounds the in-memory ring of discarded opcodes.
	DeadLetterCapacity int

	// DrainDeadlineMS bounds how long unmount waits for the queue to drain
	// (spec.md 5, "Cancellation").
	DrainDeadlineMS int
}

// DefaultApplierConfig returns reasonable defaults for the applier.
func DefaultApplierConfig() ApplierConfig {
	return ApplierConfig{
		MaxAttempts:        5,
		InitialBackoffMS:   50,
		DeadLetterCapacity: 256,
		DrainDeadlineMS:    5000,
	}
}
