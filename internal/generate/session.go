package generate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loomworks/loom/internal/kvcache"
	"github.com/loomworks/loom/internal/logger"
	"github.com/loomworks/loom/internal/sampling"
)

// Session is the per-request (or per-conversation, when kept across turns)
// generation state machine. It owns the token context mirrored by its cache
// entry and all scratch state; exactly one generation may be in flight at a
// time, enforced by an acquire/release guard rather than documentation.
type Session struct {
	id         string
	eng        *Engine
	opts       Options
	log        logger.Logger
	maxContext int
	exempt     []int
	fallback   []int

	// context is the token sequence the session's cache entry currently
	// represents. Only mutated while the busy guard is held.
	context []int

	busy   atomic.Bool
	closed atomic.Bool
}

// ID returns the session id, which also keys the cache entry.
func (s *Session) ID() string { return s.id }

// Context returns a copy of the token sequence the cache currently covers.
func (s *Session) Context() []int {
	return append([]int(nil), s.context...)
}

// Reset drops the session's context and cached history, forcing the next
// generation to prefill from scratch.
func (s *Session) Reset() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrGenerationActive
	}
	defer s.busy.Store(false)
	s.context = s.context[:0]
	s.eng.store.Reset(s.id)
	return nil
}

// Close releases the session's cache entry. Further calls on the session
// fail with ErrSessionClosed; Close itself is idempotent.
func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.eng.store.Remove(s.id)
	}
	return nil
}

// Generate encodes prompt and runs one generation. See GenerateTokens.
func (s *Session) Generate(ctx context.Context, prompt string, stream StreamFunc) (*Result, error) {
	ids, err := safeEncode(s.eng.tok, prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	return s.GenerateTokens(ctx, ids, stream)
}

// GenerateTokens runs one generation over an already-encoded prompt,
// reusing cached history where the reuse protocol allows, and streams token
// events to stream if non-nil.
//
// On Timeout and Cancelled outcomes the returned error is non-nil
// (ErrTimeout-wrapped, respectively the context's error) and the Result
// still carries the partial text, finish reason, and stats.
func (s *Session) GenerateTokens(ctx context.Context, promptIDs []int, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrGenerationActive
	}
	defer s.busy.Store(false)

	genCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res := &Result{}

	if s.eng.sem != nil {
		if err := s.eng.sem.Acquire(genCtx, 1); err != nil {
			return s.abort(ctx, genCtx, res, start)
		}
		defer s.eng.sem.Release(1)
	}

	ids, err := s.cropInput(promptIDs)
	if err != nil {
		return nil, err
	}

	logits, entry, err := s.prefill(genCtx, ids, &res.Stats)
	if err != nil {
		if genCtx.Err() != nil {
			return s.abort(ctx, genCtx, res, start)
		}
		return nil, err
	}

	var sb strings.Builder
	scanner := newStopScanner(s.opts.StopSequences)
	smp := sampling.New(sampling.Config{
		Seed:              s.opts.Seed,
		Temperature:       s.opts.Temperature,
		TopK:              s.opts.TopK,
		TopP:              s.opts.TopP,
		MinP:              s.opts.MinP,
		RepetitionPenalty: s.opts.RepetitionPenalty,
		PresencePenalty:   s.opts.PresencePenalty,
		FrequencyPenalty:  s.opts.FrequencyPenalty,
		RepetitionWindow:  s.opts.RepetitionWindow,
		Constraint:        s.opts.Constraint,
		FallbackTokens:    s.fallback,
	})
	eos := s.eng.tok.EOS()

	var (
		finish  FinishReason
		stopAt  int
		stopSeq string
	)

	for {
		if genCtx.Err() != nil {
			res.Text = sb.String()
			return s.abort(ctx, genCtx, res, start)
		}
		if s.opts.MaxNewTokens > 0 && res.Stats.TokensGenerated >= s.opts.MaxNewTokens {
			finish = FinishMaxTokens
			break
		}
		if entry.Len() >= s.maxContext {
			finish = FinishMaxContext
			break
		}

		id, logProb := smp.Sample(logits, s.context, s.exempt, sb.String())

		if id == eos || slices.Contains(s.opts.StopTokens, id) {
			finish = FinishEOS
			if id != eos {
				finish = FinishStopToken
			}
			if stream != nil {
				stream(Token{ID: id, Index: res.Stats.TokensGenerated, LogProb: logProb, Reason: finish})
			}
			break
		}

		text, derr := safeDecode(s.eng.tok, []int{id})
		if derr != nil {
			res.Text = sb.String()
			s.fillStats(res, start)
			return res, fmt.Errorf("decode token %d: %w", id, derr)
		}
		if stream != nil {
			stream(Token{ID: id, Text: text, Index: res.Stats.TokensGenerated, LogProb: logProb})
		}
		sb.WriteString(text)
		res.Stats.TokensGenerated++

		logits, err = s.forward(entry, []int{id}, entry.Len())
		if err != nil {
			res.Text = sb.String()
			s.fillStats(res, start)
			return res, err
		}
		s.context = append(s.context, id)
		res.TokenIDs = append(res.TokenIDs, id)

		if scanner != nil {
			if seq, at, ok := scanner.push(text); ok {
				finish = FinishStopSequence
				stopSeq, stopAt = seq, at
				break
			}
		}
	}

	res.Reason = finish
	res.Text = sb.String()
	if finish == FinishStopSequence {
		if s.opts.StripStopSequence {
			res.Text = res.Text[:stopAt]
		} else {
			res.Text = res.Text[:stopAt+len(stopSeq)]
		}
	}
	s.fillStats(res, start)
	s.eng.store.Touch(s.id)

	s.log.Debug("generation finished",
		"session", s.id,
		"reason", string(finish),
		"tokens", res.Stats.TokensGenerated,
		"cached", res.Stats.CachedTokens,
		"tps", res.Stats.TPS)
	return res, nil
}

// cropInput applies the input-length policy and crops the prompt to the
// context window, leaving room for at least one generated token.
func (s *Session) cropInput(promptIDs []int) ([]int, error) {
	ids := append([]int(nil), promptIDs...)
	if s.opts.MaxInputTokens > 0 && len(ids) > s.opts.MaxInputTokens {
		if !s.opts.TruncateInput {
			return nil, fmt.Errorf("prompt is %d tokens, limit %d: %w", len(ids), s.opts.MaxInputTokens, ErrInputTooLong)
		}
		ids = ids[len(ids)-s.opts.MaxInputTokens:]
	}
	if len(ids) >= s.maxContext {
		ids = ids[len(ids)-(s.maxContext-1):]
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}
	return ids, nil
}

// prefill primes the cache for ids and returns the logits of the final
// prompt position. Cached history is reused only under three-way agreement:
// the longest common prefix of the previous and new sequences must equal
// both the session's recorded context length and the entry's current token
// count. Anything else (edited history, eviction, a reset) forces a full
// prefill from position zero.
func (s *Session) prefill(ctx context.Context, ids []int, stats *Stats) ([]float32, *kvcache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	entry, err := s.eng.store.GetOrCreate(s.id, s.eng.model.KVShape(), s.maxContext)
	if err != nil {
		return nil, nil, err
	}

	lcp := kvcache.LongestCommonPrefix(s.context, ids)
	reuseLen := 0
	if lcp > 0 && lcp == len(s.context) && lcp == entry.Len() {
		// Identical prompts keep the final token out of the reused range
		// so the forward pass still has input to produce logits from.
		reuseLen = min(lcp, len(ids)-1)
		entry.SetLen(reuseLen)
	} else {
		entry.Reset()
	}
	s.context = s.context[:0]

	stats.PromptTokens = len(ids)
	stats.CachedTokens = reuseLen
	s.log.Debug("prefill",
		"session", s.id,
		"prompt_tokens", len(ids),
		"cached_tokens", reuseLen)

	logits, err := s.forward(entry, ids[reuseLen:], reuseLen)
	if err != nil {
		return nil, nil, err
	}
	s.context = append(s.context, ids...)
	return logits, entry, nil
}

// forward runs the model over tokens, keeping the entry consistent: a
// failed or panicking pass resets the entry and context so no later call
// observes partially written attention state.
func (s *Session) forward(entry *kvcache.Entry, tokens []int, pos int) (logits []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
		if err != nil {
			entry.Reset()
			s.context = s.context[:0]
		}
	}()
	return s.eng.model.Forward(entry, tokens, pos)
}

// abort classifies an interrupted generation: our own deadline is a
// Timeout error, anything fired on the caller's context is a cancellation
// propagated unmodified.
func (s *Session) abort(parent, genCtx context.Context, res *Result, start time.Time) (*Result, error) {
	s.fillStats(res, start)
	if errors.Is(genCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		res.Reason = FinishTimeout
		return res, fmt.Errorf("after %v: %w", s.opts.Timeout, ErrTimeout)
	}
	res.Reason = FinishCancelled
	err := parent.Err()
	if err == nil {
		err = genCtx.Err()
	}
	return res, err
}

func (s *Session) fillStats(res *Result, start time.Time) {
	res.Stats.Duration = time.Since(start)
	if secs := res.Stats.Duration.Seconds(); secs > 0 {
		res.Stats.TPS = float64(res.Stats.TokensGenerated) / secs
	}
}
