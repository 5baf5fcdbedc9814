package generate

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/loomworks/loom/internal/kvcache"
	"github.com/loomworks/loom/internal/logger"
	"github.com/loomworks/loom/internal/model"
)

// Config configures an Engine.
type Config struct {
	// MaxConcurrent bounds generations running at once across all
	// sessions; 0 means unlimited.
	MaxConcurrent int64
	Logger        logger.Logger
}

// Engine binds a model, its tokenizer, and a cache store, and hands out
// sessions. Model weights are shared read-only across sessions; the engine
// itself is safe for concurrent use.
type Engine struct {
	model model.Model
	tok   model.Tokenizer
	store *kvcache.Store
	sem   *semaphore.Weighted
	log   logger.Logger
}

// NewEngine validates the collaborators and builds an engine.
func NewEngine(m model.Model, tok model.Tokenizer, store *kvcache.Store, cfg Config) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}
	if tok == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	e := &Engine{
		model: m,
		tok:   tok,
		store: store,
		log:   log.WithGroup("generate"),
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return e, nil
}

// Tokenizer returns the engine's tokenizer collaborator.
func (e *Engine) Tokenizer() model.Tokenizer { return e.tok }

// Encode tokenizes text, converting tokenizer panics into errors.
func (e *Engine) Encode(text string) ([]int, error) { return safeEncode(e.tok, text) }

// Decode renders token ids back to text, converting tokenizer panics into
// errors.
func (e *Engine) Decode(ids []int) (string, error) { return safeDecode(e.tok, ids) }

// Model returns the engine's model collaborator.
func (e *Engine) Model() model.Model { return e.model }

// Store returns the engine's cache store.
func (e *Engine) Store() *kvcache.Store { return e.store }

// NewSession validates opts and creates a session keyed by id; an empty id
// gets a generated one. Options are cloned, so later mutation by the caller
// does not reach the session. The cache entry itself is created lazily on
// the first generation.
func (e *Engine) NewSession(id string, opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = "sess_" + uuid.NewString()
	}

	maxContext := e.model.ContextWindow()
	if opts.MaxContextTokens > 0 && opts.MaxContextTokens < maxContext {
		maxContext = opts.MaxContextTokens
	}
	if maxContext < 2 {
		return nil, fmt.Errorf("%w: context window %d leaves no room to generate", ErrInvalidOptions, maxContext)
	}

	opts = opts.Clone()
	exempt := append([]int{e.tok.EOS()}, opts.StopTokens...)

	return &Session{
		id:         id,
		eng:        e,
		opts:       opts,
		log:        e.log.With("session", id),
		maxContext: maxContext,
		exempt:     exempt,
		fallback:   closingTokens(e.tok),
	}, nil
}

// Generate is the one-shot path: an ephemeral session that is closed, and
// its cache entry released, when the call returns.
func (e *Engine) Generate(ctx context.Context, prompt string, opts Options, stream StreamFunc) (*Result, error) {
	s, err := e.NewSession("", opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Generate(ctx, prompt, stream)
}

// closingTokens builds the punctuation set force-unmasked when a constraint
// rejects every candidate. Pieces the tokenizer cannot express are skipped.
func closingTokens(tok model.Tokenizer) []int {
	var out []int
	for _, p := range []string{".", ",", ")", "]", "}", "\"", "\n"} {
		ids, err := tok.Encode(p)
		if err != nil || len(ids) == 0 {
			continue
		}
		if !slices.Contains(out, ids[0]) {
			out = append(out, ids[0])
		}
	}
	return out
}

func safeEncode(tok model.Tokenizer, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(text)
}

func safeDecode(tok model.Tokenizer, ids []int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return tok.Decode(ids)
}
