// Package reasoning separates chain-of-thought blocks from answer text.
// Models trained to deliberate wrap their working in <think>...</think>
// tags; downstream surfaces want the two channels apart.
package reasoning

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// Segments holds the two channels of a model reply.
type Segments struct {
	Content   string
	Reasoning string
}

// Split partitions raw output into answer content and reasoning. Tags are
// matched case-insensitively. An opened block that never closes is treated
// as reasoning to the end of the text.
func Split(raw string) Segments {
	lower := strings.ToLower(raw)
	var content, thought strings.Builder

	pos := 0
	for {
		open := strings.Index(lower[pos:], openTag)
		if open < 0 {
			content.WriteString(raw[pos:])
			break
		}
		open += pos
		content.WriteString(raw[pos:open])

		body := open + len(openTag)
		end := strings.Index(lower[body:], closeTag)
		if end < 0 {
			thought.WriteString(raw[body:])
			break
		}
		end += body
		thought.WriteString(raw[body:end])
		pos = end + len(closeTag)
	}

	return Segments{Content: content.String(), Reasoning: thought.String()}
}

// Stream splits token deltas as they arrive. Because a tag can straddle
// delta boundaries, it accumulates the raw text, re-splits on each push,
// and withholds a trailing fragment that could still turn into a tag. Call
// Flush once the stream ends to release anything withheld.
type Stream struct {
	raw      strings.Builder
	emittedC int
	emittedR int
}

// Feed appends delta and returns the newly visible content and reasoning.
func (s *Stream) Feed(delta string) (content, reasoning string) {
	if delta == "" {
		return "", ""
	}
	s.raw.WriteString(delta)

	raw := s.raw.String()
	seg := Split(raw)
	cEnd, rEnd := len(seg.Content), len(seg.Reasoning)

	lower := strings.ToLower(raw)
	if strings.LastIndex(lower, openTag) > strings.LastIndex(lower, closeTag) {
		rEnd -= partialTagLen(seg.Reasoning, closeTag)
	} else {
		cEnd -= partialTagLen(seg.Content, openTag)
	}

	if cEnd > s.emittedC {
		content = seg.Content[s.emittedC:cEnd]
		s.emittedC = cEnd
	}
	if rEnd > s.emittedR {
		reasoning = seg.Reasoning[s.emittedR:rEnd]
		s.emittedR = rEnd
	}
	return content, reasoning
}

// Flush returns whatever Feed was still holding back.
func (s *Stream) Flush() (content, reasoning string) {
	seg := Split(s.raw.String())
	if len(seg.Content) > s.emittedC {
		content = seg.Content[s.emittedC:]
		s.emittedC = len(seg.Content)
	}
	if len(seg.Reasoning) > s.emittedR {
		reasoning = seg.Reasoning[s.emittedR:]
		s.emittedR = len(seg.Reasoning)
	}
	return content, reasoning
}

// partialTagLen reports how many trailing bytes of s form a proper prefix
// of tag, so "ab<thi" holds back 4 for "<think>". tag must be lowercase.
func partialTagLen(s, tag string) int {
	if keep := len(tag) - 1; len(s) > keep {
		s = s[len(s)-keep:]
	}
	lower := strings.ToLower(s)
	for n := len(tag) - 1; n > 0; n-- {
		if strings.HasSuffix(lower, tag[:n]) {
			return n
		}
	}
	return 0
}
