package generate

import "bytes"

// stopScanner watches the decoded output stream for configured stop
// sequences. It keeps a circular buffer sized to twice the longest sequence
// so a match spanning token boundaries is still visible, reconstructing the
// linear tail on each search once the buffer has wrapped.
type stopScanner struct {
	seqs   [][]byte
	buf    []byte
	w      int
	filled bool
	total  int
	lin    []byte
}

// newStopScanner returns nil when there is nothing to watch for.
func newStopScanner(seqs []string) *stopScanner {
	longest := 0
	for _, q := range seqs {
		if len(q) > longest {
			longest = len(q)
		}
	}
	if longest == 0 {
		return nil
	}
	s := &stopScanner{
		seqs: make([][]byte, 0, len(seqs)),
		buf:  make([]byte, 2*longest),
	}
	for _, q := range seqs {
		if q != "" {
			s.seqs = append(s.seqs, []byte(q))
		}
	}
	s.lin = make([]byte, 0, len(s.buf))
	return s
}

// push appends a decoded fragment and reports the first stop sequence now
// visible. start is the byte offset of the match in the whole output
// stream, usable to truncate the final text.
func (s *stopScanner) push(fragment string) (seq string, start int, ok bool) {
	if len(fragment) >= len(s.buf) {
		return s.pushLarge(fragment)
	}

	for i := 0; i < len(fragment); i++ {
		s.buf[s.w] = fragment[i]
		s.w++
		if s.w == len(s.buf) {
			s.w = 0
			s.filled = true
		}
	}
	s.total += len(fragment)

	lin := s.lin[:0]
	if s.filled {
		lin = append(lin, s.buf[s.w:]...)
	}
	lin = append(lin, s.buf[:s.w]...)

	if q, idx := searchEarliest(lin, s.seqs); idx >= 0 {
		return string(q), s.total - len(lin) + idx, true
	}
	return "", 0, false
}

// pushLarge handles a fragment at least as large as the ring: the window
// alone would only see its tail, so search the boundary region plus the
// fragment directly, then reload the ring with the fragment's tail.
func (s *stopScanner) pushLarge(fragment string) (seq string, start int, ok bool) {
	lin := s.lin[:0]
	if s.filled {
		lin = append(lin, s.buf[s.w:]...)
	}
	lin = append(lin, s.buf[:s.w]...)
	carried := len(lin)
	lin = append(lin, fragment...)

	copy(s.buf, fragment[len(fragment)-len(s.buf):])
	s.w = 0
	s.filled = true
	s.total += len(fragment)

	if q, idx := searchEarliest(lin, s.seqs); idx >= 0 {
		return string(q), s.total - len(fragment) - carried + idx, true
	}
	return "", 0, false
}

// searchEarliest returns the sequence matching at the lowest offset,
// preferring the longest on ties, or index -1.
func searchEarliest(lin []byte, seqs [][]byte) ([]byte, int) {
	best := -1
	var bestSeq []byte
	for _, q := range seqs {
		idx := bytes.Index(lin, q)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best || (idx == best && len(q) > len(bestSeq)) {
			best = idx
			bestSeq = q
		}
	}
	return bestSeq, best
}
