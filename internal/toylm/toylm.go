// Package toylm provides a small deterministic language model used by
// tests, benchmarks, and the builtin CLI model. It is a real (if tiny)
// attention model: every decode step reads the key/value history out of the
// session cache, so stale or misaligned cache state changes its output
// rather than going unnoticed.
package toylm

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/loomworks/loom/internal/model"
)

const (
	vocabSize  = 257 // 256 byte values plus EOS
	layerCount = 2
	headCount  = 2
	headDim    = 8
	hiddenSize = headCount * headDim
)

// LM is an embedding table plus rotation-mixed attention layers with tied
// output projection. Weights are filled deterministically from the seed and
// never mutated, so one instance is safe for any number of concurrent
// sessions; all per-session state lives in the cache handed to Forward.
type LM struct {
	window int
	emb    []float32 // vocabSize rows of hiddenSize
}

// New constructs a model with the given weight seed and context window.
func New(seed int64, window int) *LM {
	if window < 1 {
		window = 512
	}
	m := &LM{
		window: window,
		emb:    make([]float32, vocabSize*hiddenSize),
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range m.emb {
		m.emb[i] = float32(rng.Float64()) - 0.5
	}
	return m
}

// KVShape reports the cache geometry the model writes.
func (m *LM) KVShape() model.Shape {
	return model.Shape{Layers: layerCount, Heads: headCount, HeadDim: headDim}
}

// ContextWindow returns the maximum number of positions attended over.
func (m *LM) ContextWindow() int { return m.window }

// VocabSize returns the logits vector length.
func (m *LM) VocabSize() int { return vocabSize }

// Forward appends len(tokens) positions to cache starting at pos and
// returns a freshly allocated logits vector for the final token.
func (m *LM) Forward(cache model.Cache, tokens []int, pos int) ([]float32, error) {
	if cache == nil {
		return nil, fmt.Errorf("toylm: nil cache")
	}
	if cache.Shape() != m.KVShape() {
		return nil, fmt.Errorf("toylm: cache shape %+v does not match model %+v", cache.Shape(), m.KVShape())
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("toylm: empty token batch")
	}
	if pos != cache.Len() {
		return nil, fmt.Errorf("toylm: position %d does not continue cache length %d", pos, cache.Len())
	}
	if end := pos + len(tokens); end > cache.Capacity() || end > m.window {
		return nil, fmt.Errorf("toylm: %d tokens at position %d exceed capacity", len(tokens), pos)
	}

	var h [hiddenSize]float32
	score := make([]float64, pos+len(tokens))

	for i, tok := range tokens {
		p := pos + i
		id := tok % vocabSize
		if id < 0 {
			id += vocabSize
		}

		copy(h[:], m.emb[id*hiddenSize:(id+1)*hiddenSize])
		// A small positional signal so identical tokens at different
		// offsets produce distinct states.
		for d := range h {
			h[d] += 0.05 * float32(math.Sin(float64(p+1)/float64(d+1)))
		}

		for l := 0; l < layerCount; l++ {
			attend(cache, l, p, &h, score)
		}
		rmsNormalize(h[:])

		cache.SetLen(p + 1)
	}

	logits := make([]float32, vocabSize)
	for v := 0; v < vocabSize; v++ {
		row := m.emb[v*hiddenSize : (v+1)*hiddenSize]
		var sum float32
		for d := range row {
			sum += row[d] * h[d]
		}
		logits[v] = sum
	}
	return logits, nil
}

// attend writes position p's key/value into layer l of the cache and adds
// the attention readout over positions 0..p to h.
func attend(cache model.Cache, l, p int, h *[hiddenSize]float32, score []float64) {
	k, v := cache.Layer(l)
	const stride = hiddenSize
	kRow := k[p*stride : (p+1)*stride]
	vRow := v[p*stride : (p+1)*stride]

	// Keys and queries are the hidden state rotated by a layer-dependent
	// offset; values are the hidden state itself.
	rot := l + 1
	var q [hiddenSize]float32
	for d := 0; d < hiddenSize; d++ {
		kRow[d] = h[(d+rot)%hiddenSize]
		vRow[d] = h[d]
		q[d] = h[(d+rot)%hiddenSize]
	}

	var out [hiddenSize]float32
	invSqrt := 1 / math.Sqrt(float64(headDim))
	for head := 0; head < headCount; head++ {
		lo := head * headDim
		hi := lo + headDim

		sc := score[:p+1]
		maxScore := math.Inf(-1)
		for j := 0; j <= p; j++ {
			kj := k[j*stride+lo : j*stride+hi]
			var dot float64
			for d := 0; d < headDim; d++ {
				dot += float64(q[lo+d]) * float64(kj[d])
			}
			sc[j] = dot * invSqrt
			if sc[j] > maxScore {
				maxScore = sc[j]
			}
		}
		var sum float64
		for j := 0; j <= p; j++ {
			sc[j] = math.Exp(sc[j] - maxScore)
			sum += sc[j]
		}
		for j := 0; j <= p; j++ {
			w := float32(sc[j] / sum)
			vj := v[j*stride+lo : j*stride+hi]
			for d := 0; d < headDim; d++ {
				out[lo+d] += w * vj[d]
			}
		}
	}
	for d := range h {
		h[d] += out[d]
	}
}

func rmsNormalize(h []float32) {
	var ss float64
	for _, x := range h {
		ss += float64(x) * float64(x)
	}
	inv := float32(1 / math.Sqrt(ss/float64(len(h))+1e-6))
	for d := range h {
		h[d] *= inv
	}
}
