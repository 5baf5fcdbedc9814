package model

// Shape describes the attention-cache geometry a model requires. Two caches
// are interchangeable only if their shapes are equal.
type Shape struct {
	Layers  int
	Heads   int
	HeadDim int
}

// Stride returns the number of float32 values one cached position occupies
// per layer (keys and values each).
func (s Shape) Stride() int {
	return s.Heads * s.HeadDim
}

// BytesPerToken returns the cache cost of a single position across all
// layers, counting both the key and value planes.
func (s Shape) BytesPerToken() int64 {
	return int64(s.Layers) * int64(s.Stride()) * 2 * 4
}

// Cache is the mutable attention state for one generation session. The
// engine owns cache storage and passes it into every forward call; models
// hold no per-session state of their own.
//
// Layer returns the key and value slabs for layer i. Each slab holds
// Capacity()*Shape().Stride() float32 values; position p occupies
// [p*stride, (p+1)*stride). Positions below Len() are valid history.
type Cache interface {
	Shape() Shape
	Capacity() int
	Len() int
	SetLen(n int)
	Layer(i int) (k, v []float32)
}

// Model is an immutable set of weights plus a forward pass. Implementations
// must be safe for concurrent use by multiple sessions: all mutable state
// lives in the Cache the caller provides.
type Model interface {
	// KVShape reports the cache geometry this model writes.
	KVShape() Shape

	// ContextWindow is the maximum number of positions the model attends
	// over. Cache capacity never needs to exceed it.
	ContextWindow() int

	// VocabSize is the length of the logits vector Forward returns.
	VocabSize() int

	// Forward appends len(tokens) positions to cache starting at pos and
	// returns the logits for the final input position. pos must equal
	// cache.Len() and the appended range must fit cache.Capacity().
	// The returned slice may be reused by the next Forward call.
	Forward(cache Cache, tokens []int, pos int) ([]float32, error)
}

// Tokenizer maps between text and token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	EOS() int
}
