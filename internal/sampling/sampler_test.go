package sampling

import (
	"math"
	"testing"

	"github.com/loomworks/loom/internal/constraint"
)

// TestDeterminism ensures two samplers configured identically produce the
// same draws across a run of calls.
func TestDeterminism(t *testing.T) {
	cfg := Config{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95, RepetitionPenalty: 1.1}
	s1 := New(cfg)
	s2 := New(cfg)

	recent := []int{1, 3, 3, 5}
	for i := 0; i < 32; i++ {
		l1 := []float32{0, 1, 2, 3, 4, 5}
		l2 := []float32{0, 1, 2, 3, 4, 5}
		a, _ := s1.Sample(l1, recent, nil, "")
		b, _ := s2.Sample(l2, recent, nil, "")
		if a != b {
			t.Fatalf("draw %d diverged: %d vs %d", i, a, b)
		}
	}
}

// TestGreedyPicksArgmax verifies that temperature <= 0 selects the highest
// logit with no randomness involved.
func TestGreedyPicksArgmax(t *testing.T) {
	s := New(Config{Temperature: 0})
	id, logProb := s.Sample([]float32{-1, 5, 3, 7, 2}, nil, nil, "")
	if id != 3 {
		t.Fatalf("greedy pick = %d, want 3", id)
	}
	if logProb > 0 || math.IsNaN(logProb) {
		t.Fatalf("bad log probability %f", logProb)
	}
}

// TestTopKRestricts draws many times with TopK=2 and checks only the two
// largest logits are ever chosen.
func TestTopKRestricts(t *testing.T) {
	s := New(Config{Seed: 7, Temperature: 1, TopK: 2})
	for i := 0; i < 50; i++ {
		id, _ := s.Sample([]float32{1, 9, 2, 8, 3}, nil, nil, "")
		if id != 1 && id != 3 {
			t.Fatalf("top-k leaked id %d", id)
		}
	}
}

// TestTopPRestricts uses a dominating logit so the nucleus is a single
// token.
func TestTopPRestricts(t *testing.T) {
	s := New(Config{Seed: 7, Temperature: 1, TopP: 0.5})
	for i := 0; i < 20; i++ {
		id, logProb := s.Sample([]float32{10, 0, 0, 0, 0}, nil, nil, "")
		if id != 0 {
			t.Fatalf("nucleus leaked id %d", id)
		}
		// The surviving distribution renormalizes, so the only candidate
		// carries probability one.
		if math.Abs(logProb) > 1e-9 {
			t.Fatalf("log probability = %g, want 0 after renormalization", logProb)
		}
	}
}

// TestMinPDropsTail sets a threshold that excludes everything but the
// dominant token.
func TestMinPDropsTail(t *testing.T) {
	s := New(Config{Seed: 3, Temperature: 1, MinP: 0.5})
	for i := 0; i < 20; i++ {
		id, logProb := s.Sample([]float32{6, 0, 0, 0}, nil, nil, "")
		if id != 0 {
			t.Fatalf("min-p leaked id %d", id)
		}
		if math.Abs(logProb) > 1e-9 {
			t.Fatalf("log probability = %g, want 0 after renormalization", logProb)
		}
	}
}

// TestRepetitionPenaltyFlips repeats a token enough for the penalty to push
// a close runner-up ahead under greedy selection.
func TestRepetitionPenaltyFlips(t *testing.T) {
	s := New(Config{Temperature: 0, RepetitionPenalty: 2})
	recent := []int{0, 0, 0}

	id, _ := s.Sample([]float32{2.0, 1.9}, recent, nil, "")
	if id != 1 {
		t.Fatalf("pick = %d, want penalized token displaced by 1", id)
	}
}

// TestRepetitionPenaltyNegativeLogit checks the multiply-when-negative rule:
// penalizing a negative logit must push it further down, not toward zero.
func TestRepetitionPenaltyNegativeLogit(t *testing.T) {
	s := New(Config{Temperature: 0, RepetitionPenalty: 2})
	id, _ := s.Sample([]float32{-0.5, -0.8}, []int{0}, nil, "")
	if id != 1 {
		t.Fatalf("pick = %d, want 1 after negative-logit penalty", id)
	}
}

// TestFrequencyPenaltyScalesWithCount verifies the per-occurrence subtraction.
func TestFrequencyPenaltyScalesWithCount(t *testing.T) {
	s := New(Config{Temperature: 0, FrequencyPenalty: 0.5})
	// Three occurrences subtract 1.5, dropping token 0 below token 1.
	id, _ := s.Sample([]float32{2.0, 1.0}, []int{0, 0, 0}, nil, "")
	if id != 1 {
		t.Fatalf("pick = %d, want 1 after frequency penalty", id)
	}

	// A single occurrence subtracts only 0.5 and token 0 stays ahead.
	s = New(Config{Temperature: 0, FrequencyPenalty: 0.5})
	id, _ = s.Sample([]float32{2.0, 1.0}, []int{0}, nil, "")
	if id != 0 {
		t.Fatalf("pick = %d, want 0 with one occurrence", id)
	}
}

// TestPresencePenaltyAppliesOnce verifies presence subtracts a flat amount
// no matter how often the token occurred.
func TestPresencePenaltyAppliesOnce(t *testing.T) {
	s := New(Config{Temperature: 0, PresencePenalty: 0.6})
	id, _ := s.Sample([]float32{2.0, 1.5}, []int{0, 0, 0, 0}, nil, "")
	if id != 1 {
		t.Fatalf("pick = %d, want 1 after presence penalty", id)
	}

	s = New(Config{Temperature: 0, PresencePenalty: 0.4})
	id, _ = s.Sample([]float32{2.0, 1.5}, []int{0, 0, 0, 0}, nil, "")
	if id != 0 {
		t.Fatalf("pick = %d, want 0 under the smaller penalty", id)
	}
}

// TestExemptTokensSkipPenalties ensures ids in the exempt list keep their
// raw logits even when present in the window.
func TestExemptTokensSkipPenalties(t *testing.T) {
	s := New(Config{Temperature: 0, RepetitionPenalty: 4})
	id, _ := s.Sample([]float32{2.0, 1.9}, []int{0, 0}, []int{0}, "")
	if id != 0 {
		t.Fatalf("pick = %d, want exempt token 0 unpenalized", id)
	}
}

// TestRepetitionWindowLimits verifies occurrences older than the window are
// not counted.
func TestRepetitionWindowLimits(t *testing.T) {
	s := New(Config{Temperature: 0, RepetitionPenalty: 2, RepetitionWindow: 2})
	// Token 0 occurs only outside the two-token window.
	id, _ := s.Sample([]float32{2.0, 1.9}, []int{0, 1, 1}, nil, "")
	if id != 0 {
		t.Fatalf("pick = %d, want 0 with occurrence outside window", id)
	}
}

// TestConstraintMasks restricts sampling to a single allowed token.
func TestConstraintMasks(t *testing.T) {
	s := New(Config{Seed: 11, Temperature: 1, Constraint: constraint.NewTokenSet(2)})
	for i := 0; i < 20; i++ {
		id, _ := s.Sample([]float32{5, 4, 0, 3}, nil, nil, "")
		if id != 2 {
			t.Fatalf("constraint leaked id %d", id)
		}
	}
}

// TestConstraintSeesGeneratedText verifies the text produced so far reaches
// the constraint on every call.
func TestConstraintSeesGeneratedText(t *testing.T) {
	var seen []string
	c := constraint.Func(func(allow []bool, generated string) {
		seen = append(seen, generated)
		allow[0] = true
	})
	s := New(Config{Temperature: 0, Constraint: c})
	s.Sample([]float32{1, 2}, nil, nil, "ab")
	s.Sample([]float32{1, 2}, nil, nil, "abc")
	if len(seen) != 2 || seen[0] != "ab" || seen[1] != "abc" {
		t.Fatalf("constraint saw %v", seen)
	}
}

// TestConstraintAllMaskedUsesFallback forces the configured fallback set
// when the constraint rejects every candidate.
func TestConstraintAllMaskedUsesFallback(t *testing.T) {
	reject := constraint.Func(func(allow []bool, generated string) {})
	s := New(Config{
		Seed:           5,
		Temperature:    1,
		Constraint:     reject,
		FallbackTokens: []int{3},
	})
	id, logProb := s.Sample([]float32{5, 4, 3, 2}, nil, nil, "")
	if id != 3 {
		t.Fatalf("pick = %d, want fallback token 3", id)
	}
	if math.Abs(logProb) > 1e-9 {
		t.Fatalf("fallback log probability = %g, want 0", logProb)
	}
}

// TestConstraintFallbackFromConstraint prefers the constraint's own
// fallback set over the configured one.
func TestConstraintFallbackFromConstraint(t *testing.T) {
	// A token set whose ids are all out of range masks nothing valid, and
	// its own fallback is unusable, so the configured one applies.
	s := New(Config{
		Seed:           5,
		Temperature:    1,
		Constraint:     constraint.NewTokenSet(99),
		FallbackTokens: []int{1},
	})
	id, _ := s.Sample([]float32{5, 4, 3}, nil, nil, "")
	if id != 1 {
		t.Fatalf("pick = %d, want configured fallback 1", id)
	}
}

// TestConstraintAllMaskedNoFallback drops the mask entirely rather than
// deadlocking when no fallback is usable.
func TestConstraintAllMaskedNoFallback(t *testing.T) {
	reject := constraint.Func(func(allow []bool, generated string) {})
	s := New(Config{Temperature: 0, Constraint: reject})
	id, _ := s.Sample([]float32{1, 7, 2}, nil, nil, "")
	if id != 1 {
		t.Fatalf("pick = %d, want unconstrained argmax 1", id)
	}
}

// TestSampleSteadyStateAllocs checks the per-token path stays allocation
// free once scratch buffers are warm.
func TestSampleSteadyStateAllocs(t *testing.T) {
	s := New(Config{Seed: 1, Temperature: 0.8, TopK: 3, TopP: 0.9, MinP: 0.05})
	logits := make([]float32, 64)
	recent := []int{1, 2, 3, 2, 1}
	for i := range logits {
		logits[i] = float32(i%7) * 0.3
	}
	for i := 0; i < 4; i++ {
		s.Sample(logits, recent, nil, "")
	}

	allocs := testing.AllocsPerRun(100, func() {
		s.Sample(logits, recent, nil, "")
	})
	if allocs != 0 {
		t.Fatalf("steady-state Sample allocates %v per call, want 0", allocs)
	}
}

// TestTimeSeededStillValid checks a negative seed produces in-range draws.
func TestTimeSeededStillValid(t *testing.T) {
	s := New(Config{Seed: -1, Temperature: 1})
	for i := 0; i < 10; i++ {
		id, _ := s.Sample([]float32{1, 2, 3}, nil, nil, "")
		if id < 0 || id > 2 {
			t.Fatalf("draw out of range: %d", id)
		}
	}
}
