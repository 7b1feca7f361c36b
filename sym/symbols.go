// Package sym defines canonical symbols for upilookup system markers.
// These symbols are stable across CLI output, logs and the websocket stream.
package sym

// System infrastructure symbols.
const (
	Pulse      = "꩜" // batch runs, rate limiting, worker pool
	PulseOpen  = "✿" // run start / resume
	PulseClose = "❀" // run cancel / shutdown
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
)

// Outcome markers used by CLI and log output.
const (
	Success   = "✓"
	NotFound  = "∅"
	Failure   = "✗"
	Cancelled = "⊘"
)
