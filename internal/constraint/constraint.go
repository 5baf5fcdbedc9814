// Package constraint defines the hook through which an external grammar or
// format engine narrows the tokens a sampler may choose.
package constraint

// Constraint decides which tokens may legally continue the text generated
// so far. Mask sets allow[id] = true for every permitted token id; entries
// are pre-cleared by the caller. Implementations are consulted once per
// decode step and must not retain the allow slice.
//
// A constraint may additionally implement
//
//	interface{ FallbackTokens() []int }
//
// to name the tokens the sampler should fall back to when the mask would
// reject every candidate. Without it the sampler uses its own closing set.
type Constraint interface {
	Mask(allow []bool, generated string)
}

// TokenSet permits a fixed set of token ids regardless of the generated
// text. The zero value permits nothing.
type TokenSet struct {
	ids []int
}

// NewTokenSet returns a constraint allowing exactly ids.
func NewTokenSet(ids ...int) *TokenSet {
	return &TokenSet{ids: append([]int(nil), ids...)}
}

// Mask marks the set's ids as allowed.
func (t *TokenSet) Mask(allow []bool, _ string) {
	for _, id := range t.ids {
		if id >= 0 && id < len(allow) {
			allow[id] = true
		}
	}
}

// FallbackTokens returns the set itself: if none of the ids fits the
// candidate list there is nothing better to suggest.
func (t *TokenSet) FallbackTokens() []int {
	return t.ids
}

// Func adapts a plain function to the Constraint interface.
type Func func(allow []bool, generated string)

// Mask calls f.
func (f Func) Mask(allow []bool, generated string) {
	f(allow, generated)
}
