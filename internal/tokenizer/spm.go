package tokenizer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const spmSpace = "▁"

// SPMTokenizer is a SentencePiece-style BPE tokenizer driven by token
// scores, with <0xXX> byte fallback.
type SPMTokenizer struct {
	vocab
	scores         []float32
	byteIDs        [256]int
	byteTok        map[int]byte
	addSpacePrefix bool
	special        []string
}

func NewSPM(cfg TokenizerConfig) (*SPMTokenizer, error) {
	if len(cfg.Tokens) == 0 {
		return nil, ErrNoVocabulary
	}
	t := &SPMTokenizer{
		vocab:          newVocab(cfg),
		scores:         cfg.Scores,
		byteTok:        make(map[int]byte),
		addSpacePrefix: cfg.AddSpacePrefix,
		special:        collectSpecials(cfg.Tokens),
	}
	for i := range t.byteIDs {
		t.byteIDs[i] = -1
	}
	for id, s := range cfg.Tokens {
		if b, ok := parseByteToken(s); ok {
			if t.byteIDs[b] < 0 {
				t.byteIDs[b] = id
			}
			t.byteTok[id] = b
		}
	}
	return t, nil
}

func (t *SPMTokenizer) Encode(text string) []int {
	var ids []int
	for i, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		s := part.text
		if i == 0 && t.addSpacePrefix && s != "" {
			s = " " + s
		}
		ids = t.encodeWord(ids, strings.ReplaceAll(s, " ", spmSpace))
	}
	return ids
}

func (t *SPMTokenizer) encodeWord(ids []int, s string) []int {
	var syms []string
	for len(s) > 0 {
		r, n := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && n <= 1 {
			n = 1
		}
		syms = append(syms, s[:n])
		s = s[n:]
	}

	for len(syms) > 1 {
		best := -1
		var bestScore float32
		for i := 0; i+1 < len(syms); i++ {
			id, ok := t.encoder[syms[i]+syms[i+1]]
			if !ok {
				continue
			}
			score := t.score(id)
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		syms[best] += syms[best+1]
		syms = append(syms[:best+1], syms[best+2:]...)
	}

	for _, sym := range syms {
		if id, ok := t.encoder[sym]; ok {
			ids = append(ids, id)
			continue
		}
		for i := 0; i < len(sym); i++ {
			if id := t.byteIDs[sym[i]]; id >= 0 {
				ids = append(ids, id)
			} else {
				ids = append(ids, t.unkID)
			}
		}
	}
	return ids
}

func (t *SPMTokenizer) score(id int) float32 {
	if id < len(t.scores) {
		return t.scores[id]
	}
	// Without scores, prefer later (longer) merges the way the vocab is ordered.
	return -float32(id)
}

func (t *SPMTokenizer) Decode(ids []int) string {
	var b []byte
	for _, id := range ids {
		if t.skip(id) {
			continue
		}
		if by, ok := t.byteTok[id]; ok {
			b = append(b, by)
			continue
		}
		b = append(b, strings.ReplaceAll(t.decoder[id], spmSpace, " ")...)
	}
	if t.addSpacePrefix && len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	return string(b)
}

func parseByteToken(s string) (byte, bool) {
	if len(s) != 6 || !strings.HasPrefix(s, "<0x") || s[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(s[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// ByteToken returns the byte-fallback token for b.
func ByteToken(b byte) string {
	return fmt.Sprintf("<0x%02X>", b)
}
