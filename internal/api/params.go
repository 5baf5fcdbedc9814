package api

import (
	"time"

	"github.com/loomworks/loom/internal/generate"
)

// requestKnobs is the subset of sampling fields shared by both endpoints.
type requestKnobs struct {
	MaxTokens         *int
	Temperature       *float64
	TopK              *int
	TopP              *float64
	MinP              *float64
	RepetitionPenalty *float64
	Seed              *int64
	Stop              any
	TimeoutMs         *int
}

func (r CompletionRequest) knobs() requestKnobs {
	return requestKnobs{
		MaxTokens:         r.MaxTokens,
		Temperature:       r.Temperature,
		TopK:              r.TopK,
		TopP:              r.TopP,
		MinP:              r.MinP,
		RepetitionPenalty: r.RepetitionPenalty,
		Seed:              r.Seed,
		Stop:              r.Stop,
		TimeoutMs:         r.TimeoutMs,
	}
}

func (r ChatCompletionRequest) knobs() requestKnobs {
	return requestKnobs{
		MaxTokens:         r.MaxTokens,
		Temperature:       r.Temperature,
		TopK:              r.TopK,
		TopP:              r.TopP,
		MinP:              r.MinP,
		RepetitionPenalty: r.RepetitionPenalty,
		Seed:              r.Seed,
		Stop:              r.Stop,
		TimeoutMs:         r.TimeoutMs,
	}
}

// buildOptions folds request knobs over the engine defaults. Absent fields
// keep their defaults; max_tokens falls back to the server cap so an open
// request cannot run to the context window.
func (s *Server) buildOptions(k requestKnobs) (generate.Options, error) {
	opts := generate.Default()
	opts.MaxNewTokens = s.maxNew

	if k.MaxTokens != nil {
		opts.MaxNewTokens = *k.MaxTokens
	}
	if k.Temperature != nil {
		opts.Temperature = float32(*k.Temperature)
	}
	if k.TopK != nil {
		opts.TopK = *k.TopK
	}
	if k.TopP != nil {
		opts.TopP = float32(*k.TopP)
	}
	if k.MinP != nil {
		opts.MinP = float32(*k.MinP)
	}
	if k.RepetitionPenalty != nil {
		opts.RepetitionPenalty = float32(*k.RepetitionPenalty)
	}
	if k.Seed != nil {
		opts.Seed = *k.Seed
	}
	if k.TimeoutMs != nil {
		if *k.TimeoutMs < 0 {
			return opts, newInvalidRequest("timeout_ms must not be negative")
		}
		opts.Timeout = time.Duration(*k.TimeoutMs) * time.Millisecond
	}

	stop, err := stopList(k.Stop)
	if err != nil {
		return opts, err
	}
	if len(stop) > 0 {
		opts.StopSequences = stop
		opts.StripStopSequence = true
	}
	return opts, nil
}

// stopList coerces the stop field, which may arrive as a string, an array
// of strings, or be absent.
func stopList(v any) ([]string, error) {
	switch stop := v.(type) {
	case nil:
		return nil, nil
	case string:
		if stop == "" {
			return nil, newInvalidRequest("stop must not be empty")
		}
		return []string{stop}, nil
	case []any:
		out := make([]string, 0, len(stop))
		for _, item := range stop {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, newInvalidRequest("stop must be a string or an array of non-empty strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, newInvalidRequest("stop must be a string or an array of strings")
	}
}

// wireFinish maps an engine finish reason to its wire name.
func wireFinish(r generate.FinishReason) string {
	switch r {
	case generate.FinishMaxTokens, generate.FinishMaxContext:
		return "length"
	case generate.FinishTimeout:
		return "timeout"
	case generate.FinishCancelled:
		return "cancelled"
	default:
		return "stop"
	}
}

// usageFrom reports real token counts from generation stats.
func usageFrom(st generate.Stats) *Usage {
	u := &Usage{
		PromptTokens:     st.PromptTokens,
		CompletionTokens: st.TokensGenerated,
		TotalTokens:      st.PromptTokens + st.TokensGenerated,
	}
	if st.CachedTokens > 0 {
		u.PromptTokensDetails = &PromptTokensDetails{CachedTokens: st.CachedTokens}
	}
	return u
}
