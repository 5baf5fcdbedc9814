package generate

import "errors"

var (
	// ErrTimeout reports the wall-clock budget expiring mid-generation.
	// Distinct from a graceful finish so callers can tell planned
	// truncation from a missed deadline.
	ErrTimeout = errors.New("generate: deadline exceeded")

	// ErrInputTooLong reports a prompt over MaxInputTokens with truncation
	// disabled.
	ErrInputTooLong = errors.New("generate: input exceeds token limit")

	// ErrSessionClosed reports use of a session after Close.
	ErrSessionClosed = errors.New("generate: session closed")

	// ErrGenerationActive reports a second concurrent Generate call on a
	// session that already has one in flight.
	ErrGenerationActive = errors.New("generate: generation already in flight")

	// ErrInvalidOptions wraps configuration validation failures, raised
	// before any forward pass runs.
	ErrInvalidOptions = errors.New("generate: invalid options")
)
