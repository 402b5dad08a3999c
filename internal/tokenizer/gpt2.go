package tokenizer

import (
	"regexp"
	"strings"
	"sync"
)

const bpeCacheLimit = 4096

var (
	gpt2Pattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	// Llama 3 style pre-tokenizer, lookahead removed for Go regexp compatibility.
	llama3Pattern = regexp.MustCompile(`(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`)
)

// GPT2Tokenizer is a byte-level BPE tokenizer.
type GPT2Tokenizer struct {
	vocab
	bpeRanks    map[Pair]int
	byteEncoder [256]string
	byteDecoder map[rune]byte
	pattern     *regexp.Regexp
	special     []string

	mu    sync.Mutex
	cache map[string][]string
}

func NewGPT2(cfg TokenizerConfig) (*GPT2Tokenizer, error) {
	if len(cfg.Tokens) == 0 {
		return nil, ErrNoVocabulary
	}

	bpeRanks := make(map[Pair]int, len(cfg.Merges))
	rank := 0
	for _, line := range cfg.Merges {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok || a == "" || b == "" || strings.Contains(b, " ") {
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := bpeRanks[p]; !ok {
			bpeRanks[p] = rank
			rank++
		}
	}

	pat := gpt2Pattern
	switch cfg.Pre {
	case "llama3", "llama-v3", "llama-bpe", "falcon3", "pixtral":
		pat = llama3Pattern
	}

	t := &GPT2Tokenizer{
		vocab:       newVocab(cfg),
		bpeRanks:    bpeRanks,
		byteDecoder: make(map[rune]byte, 256),
		pattern:     pat,
		special:     collectSpecials(cfg.Tokens),
		cache:       make(map[string][]string),
	}
	for b, r := range bytesToUnicode() {
		t.byteEncoder[b] = string(r)
		t.byteDecoder[r] = byte(b)
	}
	return t, nil
}

// Encode never fails: pieces outside the vocabulary are split into byte
// symbols and byte symbols outside the vocabulary become the unknown id.
func (t *GPT2Tokenizer) Encode(text string) []int {
	var ids []int
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		for _, piece := range splitPattern(t.pattern, part.text) {
			for _, sym := range t.bpe(t.byteEncode(piece)) {
				if id, ok := t.encoder[sym]; ok {
					ids = append(ids, id)
					continue
				}
				for _, r := range sym {
					if id, ok := t.encoder[string(r)]; ok {
						ids = append(ids, id)
					} else {
						ids = append(ids, t.unkID)
					}
				}
			}
		}
	}
	return ids
}

// Decode drops control tokens and ids outside the vocabulary.
func (t *GPT2Tokenizer) Decode(ids []int) string {
	var b []byte
	for _, id := range ids {
		if t.skip(id) {
			continue
		}
		for _, r := range t.decoder[id] {
			if by, ok := t.byteDecoder[r]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b)
}

func (t *GPT2Tokenizer) byteEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteString(t.byteEncoder[s[i]])
	}
	return b.String()
}

func (t *GPT2Tokenizer) bpe(token string) []string {
	t.mu.Lock()
	v, ok := t.cache[token]
	t.mu.Unlock()
	if ok {
		return v
	}

	word := splitRunes(token)
	for len(word) > 1 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range getPairs(word) {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
	}

	t.mu.Lock()
	if len(t.cache) >= bpeCacheLimit {
		clear(t.cache)
	}
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

// splitPattern applies the pre-tokenizer and keeps any text it does not
// match, so no input bytes are lost.
func splitPattern(re *regexp.Regexp, s string) []string {
	var out []string
	last := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			out = append(out, s[last:loc[0]])
		}
		if loc[1] > loc[0] {
			out = append(out, s[loc[0]:loc[1]])
		}
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, s[last:])
	}
	return out
}
