package inference

import (
	"slices"
	"strings"

	"github.com/samcharles93/minijarvis/internal/tokenizer"
)

// endMarkers are end-of-turn tokens some chat models emit instead of EOS.
var endMarkers = []string{
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|eot_id|>",
	"<|im_end|>",
	"<end_of_turn>",
	"</s>",
}

// StopTokens returns the EOS id followed by any end-of-turn marker present
// in the vocabulary.
func StopTokens(tok tokenizer.Tokenizer) []int {
	var stop []int
	if eos := tok.EOSID(); eos >= 0 {
		stop = append(stop, eos)
	}
	for id := range tok.VocabSize() {
		s := strings.ToLower(strings.TrimSpace(tok.TokenString(id)))
		if slices.Contains(endMarkers, s) && !slices.Contains(stop, id) {
			stop = append(stop, id)
		}
	}
	return stop
}
