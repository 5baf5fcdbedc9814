package generate

import "testing"

// TestStopScannerAcrossFragments splits a stop sequence over several pushes
// the way multi-byte tokens arrive.
func TestStopScannerAcrossFragments(t *testing.T) {
	s := newStopScanner([]string{"STOP"})

	for _, frag := range []string{"hel", "lo ", "ST"} {
		if seq, _, ok := s.push(frag); ok {
			t.Fatalf("premature match %q", seq)
		}
	}
	seq, start, ok := s.push("OP")
	if !ok {
		t.Fatal("no match after sequence completed")
	}
	if seq != "STOP" {
		t.Fatalf("matched %q, want STOP", seq)
	}
	if start != len("hello ") {
		t.Fatalf("match start = %d, want %d", start, len("hello "))
	}
}

// TestStopScannerWraparound pushes enough text to wrap the ring several
// times before the match arrives, exercising the reconstruction path.
func TestStopScannerWraparound(t *testing.T) {
	s := newStopScanner([]string{"END"})

	text := ""
	for i := 0; i < 10; i++ {
		frag := "abc"
		if _, _, ok := s.push(frag); ok {
			t.Fatal("false match")
		}
		text += frag
	}
	seq, start, ok := s.push("xEND")
	if !ok || seq != "END" {
		t.Fatalf("match = %q ok=%v", seq, ok)
	}
	if start != len(text)+1 {
		t.Fatalf("match start = %d, want %d", start, len(text)+1)
	}
}

// TestStopScannerLargeFragment feeds a fragment bigger than the ring,
// including the case where the match straddles the fragment boundary.
func TestStopScannerLargeFragment(t *testing.T) {
	s := newStopScanner([]string{"FIN"})
	if _, _, ok := s.push("...FI"); ok {
		t.Fatal("false match")
	}
	// 20 bytes, well over the 6-byte ring; the match completes at its head.
	seq, start, ok := s.push("Nxxxxxxxxxxxxxxxxxxx")
	if !ok || seq != "FIN" {
		t.Fatalf("match = %q ok=%v", seq, ok)
	}
	if start != 3 {
		t.Fatalf("match start = %d, want 3", start)
	}
}

// TestStopScannerPrefersEarliestThenLongest checks multi-sequence
// precedence.
func TestStopScannerPrefersEarliestThenLongest(t *testing.T) {
	s := newStopScanner([]string{"AB", "ABCD", "CD"})
	seq, start, ok := s.push("xABCD")
	if !ok {
		t.Fatal("no match")
	}
	if seq != "ABCD" || start != 1 {
		t.Fatalf("match = %q at %d, want ABCD at 1", seq, start)
	}
}

// TestStopScannerNilWhenUnused verifies construction without sequences.
func TestStopScannerNilWhenUnused(t *testing.T) {
	if s := newStopScanner(nil); s != nil {
		t.Fatal("expected nil scanner for no sequences")
	}
	if s := newStopScanner([]string{}); s != nil {
		t.Fatal("expected nil scanner for empty list")
	}
}
