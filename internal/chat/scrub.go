package chat

import "strings"

// sentinelScrubber drops end-of-turn markers that models sometimes emit as
// literal text rather than as their token ids.
var sentinelScrubber = strings.NewReplacer(
	"<|im_end|>", "",
	"<|endoftext|>", "",
	"<|end_of_text|>", "",
	"<|eot_id|>", "",
	"</s>", "",
)

// Scrub cleans assistant output for the transcript: sentinel markers go,
// surrounding whitespace is trimmed. Think blocks are split off before this
// by the reasoning package.
func Scrub(text string) string {
	return strings.TrimSpace(sentinelScrubber.Replace(text))
}
