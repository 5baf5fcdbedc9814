package generate

import (
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/constraint"
)

// Options controls one generation. A session clones its Options at
// construction, so callers may reuse and mutate a value freely between
// requests without affecting in-flight work.
type Options struct {
	Temperature       float32
	TopK              int
	TopP              float32
	MinP              float32
	RepetitionPenalty float32
	PresencePenalty   float32
	FrequencyPenalty  float32
	RepetitionWindow  int

	// MaxNewTokens caps generated tokens; 0 means no cap. MaxContextTokens
	// caps total context below the model window; 0 means the window.
	// MaxInputTokens bounds the prompt: over it, TruncateInput drops the
	// oldest tokens, otherwise the request fails.
	MaxNewTokens     int
	MaxContextTokens int
	MaxInputTokens   int
	TruncateInput    bool

	// Timeout is the wall-clock budget; 0 disables it.
	Timeout time.Duration

	// Seed below zero picks a fresh seed per generation; anything else
	// makes sampling reproducible.
	Seed int64

	StopTokens        []int
	StopSequences     []string
	StripStopSequence bool

	// Constraint optionally narrows sampling via an external grammar or
	// format collaborator. Constraints carrying state must not be shared
	// across sessions.
	Constraint constraint.Constraint
}

// Default returns the options used when a caller leaves everything unset.
func Default() Options {
	return Options{
		Temperature:       0.8,
		TopK:              40,
		TopP:              0.95,
		MinP:              0,
		RepetitionPenalty: 1.1,
		RepetitionWindow:  256,
		Seed:              -1,
	}
}

// Clone returns a deep copy. Slice fields are copied; the constraint is an
// opaque collaborator and is shared by reference.
func (o Options) Clone() Options {
	c := o
	c.StopTokens = append([]int(nil), o.StopTokens...)
	c.StopSequences = append([]string(nil), o.StopSequences...)
	return c
}

// Validate rejects out-of-range knobs. It runs at session construction,
// before any forward pass.
func (o Options) Validate() error {
	if o.TopP < 0 || o.TopP > 1 {
		return fmt.Errorf("%w: top_p %v outside [0,1]", ErrInvalidOptions, o.TopP)
	}
	if o.MinP < 0 || o.MinP >= 1 {
		return fmt.Errorf("%w: min_p %v outside [0,1)", ErrInvalidOptions, o.MinP)
	}
	if o.TopK < 0 {
		return fmt.Errorf("%w: top_k %d negative", ErrInvalidOptions, o.TopK)
	}
	if o.RepetitionPenalty < 0 {
		return fmt.Errorf("%w: repetition_penalty %v negative", ErrInvalidOptions, o.RepetitionPenalty)
	}
	if o.RepetitionWindow < 0 {
		return fmt.Errorf("%w: repetition_window %d negative", ErrInvalidOptions, o.RepetitionWindow)
	}
	if o.MaxNewTokens < 0 || o.MaxContextTokens < 0 || o.MaxInputTokens < 0 {
		return fmt.Errorf("%w: negative token budget", ErrInvalidOptions)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidOptions)
	}
	for _, seq := range o.StopSequences {
		if seq == "" {
			return fmt.Errorf("%w: empty stop sequence", ErrInvalidOptions)
		}
	}
	return nil
}
