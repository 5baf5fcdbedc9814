package generate

import "time"

// FinishReason tags why a generation terminated.
type FinishReason string

const (
	FinishNone         FinishReason = ""
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishMaxContext   FinishReason = "max_context"
	FinishEOS          FinishReason = "end_of_sequence"
	FinishStopToken    FinishReason = "stop_token"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishTimeout      FinishReason = "timeout"
	FinishCancelled    FinishReason = "cancelled"
)

// Token is one generated-token event. Text is empty for tokens that only
// terminate generation (EOS and configured stop tokens). Reason is
// FinishNone except on the final event of a run that ended on a sampled
// token; budget and cancellation outcomes are reported on the Result alone.
type Token struct {
	ID      int
	Text    string
	Index   int
	LogProb float64
	Reason  FinishReason
}

// StreamFunc receives each token event as it is produced.
type StreamFunc func(Token)

// Stats summarizes one generation run.
type Stats struct {
	PromptTokens    int
	CachedTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Result is the aggregated outcome of a generation. TokenIDs holds the
// generated ids that extended the context, in order; stop-trigger tokens
// are excluded. Text reflects StripStopSequence.
type Result struct {
	Text     string
	Reason   FinishReason
	TokenIDs []int
	Stats    Stats
}
