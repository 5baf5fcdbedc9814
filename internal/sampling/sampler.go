// Package sampling turns raw model logits into a chosen token id through a
// fixed filter pipeline: repetition penalties, temperature, top-k, softmax,
// top-p, min-p, an optional output constraint, then a single draw from the
// surviving distribution.
package sampling

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/loomworks/loom/internal/constraint"
)

// Config configures the behaviour of a Sampler.
type Config struct {
	Seed              int64
	Temperature       float32
	TopK              int
	TopP              float32
	MinP              float32
	RepetitionPenalty float32
	PresencePenalty   float32
	FrequencyPenalty  float32
	RepetitionWindow  int

	// Constraint, when set, masks tokens the external grammar collaborator
	// disallows. FallbackTokens are force-unmasked when the constraint
	// would reject every candidate; constraints implementing
	// FallbackTokens() override it.
	Constraint     constraint.Constraint
	FallbackTokens []int
}

// Sampler draws token ids from logits vectors. All working storage is held
// on the sampler and reused, so a steady-state Sample call performs no
// allocation. A Sampler is not safe for concurrent use; each session owns
// one.
type Sampler struct {
	rng    *rand.Rand
	cfg    Config
	greedy bool

	idx     []int
	val     []float32
	prob    []float64
	allow   []bool
	countID []int
	countN  []int
	sorter  byValDesc
}

// New returns a sampler for the provided configuration. Out-of-range knobs
// are clamped to their neutral values; a negative seed selects a
// time-seeded generator, any other seed makes draws reproducible.
func New(cfg Config) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.MinP < 0 || cfg.MinP >= 1 {
		cfg.MinP = 0
	}
	if cfg.RepetitionPenalty <= 0 {
		cfg.RepetitionPenalty = 1
	}
	if cfg.RepetitionWindow <= 0 {
		cfg.RepetitionWindow = 256
	}
	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always picks the most probable token.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws one token id from logits. recent is the tail of the token
// context consulted for repetition penalties; exempt lists ids (typically
// EOS and stop tokens) the penalties must not touch; generated is the text
// produced so far, handed to the output constraint.
//
// The logits slice is modified in place by the penalty stage. The second
// return value is the natural log of the chosen token's probability under
// the final filtered distribution.
func (s *Sampler) Sample(logits []float32, recent []int, exempt []int, generated string) (int, float64) {
	s.applyPenalties(logits, recent, exempt)

	n := s.shortlist(logits)
	idx, prob := s.idx[:n], s.prob[:n]

	s.softmax(prob, s.val[:n])

	if s.cfg.TopP < 1 {
		n = topP(prob, s.cfg.TopP)
		idx, prob = idx[:n], prob[:n]
	}
	if s.cfg.MinP > 0 {
		n = minP(prob, s.cfg.MinP)
		idx, prob = idx[:n], prob[:n]
	}
	if s.cfg.Constraint != nil {
		idx, prob = s.applyConstraint(logits, idx, prob, generated)
	}

	if s.greedy {
		best := 0
		for i := 1; i < len(prob); i++ {
			if prob[i] > prob[best] {
				best = i
			}
		}
		return idx[best], math.Log(prob[best])
	}

	u := s.rng.Float64()
	var c float64
	for i := range prob {
		c += prob[i]
		if u <= c {
			return idx[i], math.Log(prob[i])
		}
	}
	last := len(prob) - 1
	return idx[last], math.Log(prob[last])
}

// applyPenalties counts token occurrences over the trailing repetition
// window and adjusts logits in place. Window sizes are small relative to
// the vocabulary, so occurrences live in a linear-scan pair buffer rather
// than a map.
func (s *Sampler) applyPenalties(logits []float32, recent []int, exempt []int) {
	rep := s.cfg.RepetitionPenalty
	if rep == 1 && s.cfg.PresencePenalty == 0 && s.cfg.FrequencyPenalty == 0 {
		return
	}
	window := min(len(recent), s.cfg.RepetitionWindow)
	if window == 0 {
		return
	}

	s.countID = s.countID[:0]
	s.countN = s.countN[:0]
scan:
	for _, id := range recent[len(recent)-window:] {
		if id < 0 || id >= len(logits) {
			continue
		}
		for _, ex := range exempt {
			if id == ex {
				continue scan
			}
		}
		found := false
		for i, have := range s.countID {
			if have == id {
				s.countN[i]++
				found = true
				break
			}
		}
		if !found {
			s.countID = append(s.countID, id)
			s.countN = append(s.countN, 1)
		}
	}

	for i, id := range s.countID {
		if rep != 1 {
			if logits[id] > 0 {
				logits[id] /= rep
			} else {
				logits[id] *= rep
			}
		}
		logits[id] -= s.cfg.PresencePenalty
		logits[id] -= s.cfg.FrequencyPenalty * float32(s.countN[i])
	}
}

// shortlist fills s.idx/s.val with the top-k candidate ids and their
// temperature-scaled logits, ordered by value descending, and returns the
// shortlist length. k <= 0 or k >= vocabulary keeps every token.
func (s *Sampler) shortlist(logits []float32) int {
	if cap(s.idx) < len(logits) {
		s.idx = make([]int, len(logits))
		s.val = make([]float32, len(logits))
		s.prob = make([]float64, len(logits))
	}
	idx := s.idx[:len(logits)]
	val := s.val[:len(logits)]

	invTemp := float32(1) / s.cfg.Temperature
	for i, l := range logits {
		idx[i] = i
		val[i] = l * invTemp
	}

	s.sorter.idx, s.sorter.val = idx, val
	sort.Sort(&s.sorter)

	n := len(logits)
	if k := s.cfg.TopK; k > 0 && k < n {
		n = k
	}
	return n
}

// softmax writes the numerically stable softmax of val into prob. val is
// ordered descending, so val[0] is the max to subtract.
func (s *Sampler) softmax(prob []float64, val []float32) {
	var sum float64
	for i, v := range val {
		e := math.Exp(float64(v - val[0]))
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		// Degenerate logits; fall back to uniform.
		u := 1 / float64(len(prob))
		for i := range prob {
			prob[i] = u
		}
		return
	}
	inv := 1 / sum
	for i := range prob {
		prob[i] *= inv
	}
}

// topP truncates the descending distribution to the smallest prefix whose
// cumulative probability reaches p, renormalizes, and returns the new
// length.
func topP(prob []float64, p float32) int {
	cut := len(prob)
	var c float64
	for i := range prob {
		c += prob[i]
		if c >= float64(p) {
			cut = i + 1
			break
		}
	}
	renormalize(prob[:cut])
	return cut
}

// minP drops candidates below minP times the maximum probability,
// renormalizes, and returns the new length. prob is descending, so this is
// a truncation as well.
func minP(prob []float64, mp float32) int {
	threshold := prob[0] * float64(mp)
	n := len(prob)
	for i := 1; i < len(prob); i++ {
		if prob[i] < threshold {
			n = i
			break
		}
	}
	renormalize(prob[:n])
	return n
}

// applyConstraint zeroes candidates the constraint disallows and
// renormalizes. When every candidate would be rejected the fallback set is
// force-unmasked instead, weighted by the tempered logits; with no usable
// fallback the mask is ignored for this token. Generation always moves
// forward.
func (s *Sampler) applyConstraint(logits []float32, idx []int, prob []float64, generated string) ([]int, []float64) {
	if cap(s.allow) < len(logits) {
		s.allow = make([]bool, len(logits))
	}
	allow := s.allow[:len(logits)]
	clear(allow)
	s.cfg.Constraint.Mask(allow, generated)

	var kept float64
	for i, id := range idx {
		if allow[id] {
			kept += prob[i]
		}
	}
	if kept > 0 {
		n := 0
		for i, id := range idx {
			if allow[id] {
				idx[n] = id
				prob[n] = prob[i]
				n++
			}
		}
		renormalize(prob[:n])
		return idx[:n], prob[:n]
	}

	fidx := s.idx[:0]
	fprob := s.prob[:0]
	maxVal := s.val[0]
	invTemp := float32(1) / s.cfg.Temperature
	appendValid := func(ids []int) {
		for _, id := range ids {
			if id < 0 || id >= len(logits) {
				continue
			}
			fidx = append(fidx, id)
			fprob = append(fprob, math.Exp(float64(logits[id]*invTemp-maxVal)))
		}
	}
	if fb, ok := s.cfg.Constraint.(interface{ FallbackTokens() []int }); ok {
		appendValid(fb.FallbackTokens())
	}
	if len(fidx) == 0 {
		appendValid(s.cfg.FallbackTokens)
	}
	if len(fidx) == 0 {
		// Nothing to force; the pre-constraint distribution stands.
		return idx, prob
	}
	renormalize(fprob)
	return fidx, fprob
}

func renormalize(prob []float64) {
	var sum float64
	for _, p := range prob {
		sum += p
	}
	if sum <= 0 {
		u := 1 / float64(len(prob))
		for i := range prob {
			prob[i] = u
		}
		return
	}
	inv := 1 / sum
	for i := range prob {
		prob[i] *= inv
	}
}

// byValDesc sorts candidate ids by logit value descending. Ties keep the
// lower id first so the order is fully deterministic.
type byValDesc struct {
	idx []int
	val []float32
}

func (b *byValDesc) Len() int { return len(b.idx) }

func (b *byValDesc) Less(i, j int) bool {
	if b.val[i] != b.val[j] {
		return b.val[i] > b.val[j]
	}
	return b.idx[i] < b.idx[j]
}

func (b *byValDesc) Swap(i, j int) {
	b.idx[i], b.idx[j] = b.idx[j], b.idx[i]
	b.val[i], b.val[j] = b.val[j], b.val[i]
}
