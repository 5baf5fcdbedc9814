package kvcache

import (
	"time"

	"github.com/loomworks/loom/internal/model"
)

// Entry is the attention cache owned by one session: per-layer key/value
// slabs plus the count of positions currently holding valid history. It
// implements model.Cache so the forward pass writes directly into it.
//
// An Entry is not safe for concurrent use; the owning session serializes
// access. The store only touches recency metadata, under its own lock.
type Entry struct {
	id       string
	shape    model.Shape
	capacity int
	length   int
	k        [][]float32
	v        [][]float32
	lastUsed time.Time
}

func newEntry(id string, shape model.Shape, maxTokens int) *Entry {
	e := &Entry{
		id:       id,
		shape:    shape,
		capacity: maxTokens,
		k:        make([][]float32, shape.Layers),
		v:        make([][]float32, shape.Layers),
		lastUsed: time.Now(),
	}
	slab := maxTokens * shape.Stride()
	for i := 0; i < shape.Layers; i++ {
		e.k[i] = make([]float32, slab)
		e.v[i] = make([]float32, slab)
	}
	return e
}

// ID returns the session id this entry belongs to.
func (e *Entry) ID() string { return e.id }

// Shape returns the cache geometry recorded at creation.
func (e *Entry) Shape() model.Shape { return e.shape }

// Capacity returns the maximum number of positions the entry can hold.
func (e *Entry) Capacity() int { return e.capacity }

// Len returns the number of positions holding valid history.
func (e *Entry) Len() int { return e.length }

// SetLen records the number of valid positions. Values outside
// [0, Capacity] are clamped; currentTokenCount never exceeds capacity.
func (e *Entry) SetLen(n int) {
	if n < 0 {
		n = 0
	}
	if n > e.capacity {
		n = e.capacity
	}
	e.length = n
}

// Layer returns the key and value slabs for layer i.
func (e *Entry) Layer(i int) (k, v []float32) {
	return e.k[i], e.v[i]
}

// Reset discards all cached history. Storage is retained for reuse.
func (e *Entry) Reset() {
	e.length = 0
}

// Bytes returns the fixed allocation cost of the entry.
func (e *Entry) Bytes() int64 {
	return int64(e.capacity) * e.shape.BytesPerToken()
}
