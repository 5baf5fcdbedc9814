package toylm

// EOSToken is the id reserved for end-of-sequence, one past the byte range.
const EOSToken = 256

// Tokenizer is a byte-level tokenizer: every byte of the input is one token
// id. Encoding never fails and round-trips exactly, which keeps engine
// tests free of tokenizer ambiguity.
type Tokenizer struct{}

// Encode maps text to its byte values.
func (Tokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

// Decode maps byte-value ids back to text. Ids outside the byte range,
// including EOS, decode to nothing.
func (Tokenizer) Decode(ids []int) (string, error) {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < 256 {
			buf = append(buf, byte(id))
		}
	}
	return string(buf), nil
}

// EOS returns the end-of-sequence id.
func (Tokenizer) EOS() int { return EOSToken }
