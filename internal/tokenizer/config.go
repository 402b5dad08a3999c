package tokenizer

import (
	"errors"
	"fmt"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

// ErrNoVocabulary is returned when a model carries no usable vocabulary.
var ErrNoVocabulary = errors.New("tokenizer: missing vocabulary")

// Token types as stored in tokenizer.ggml.token_type.
const (
	TokenTypeNormal      int32 = 1
	TokenTypeUnknown     int32 = 2
	TokenTypeControl     int32 = 3
	TokenTypeUserDefined int32 = 4
	TokenTypeUnused      int32 = 5
	TokenTypeByte        int32 = 6
)

type TokenizerConfig struct {
	Model          string
	Pre            string
	AddBOS         bool
	AddSpacePrefix bool
	BOSTokenID     int
	EOSTokenID     int
	PADTokenID     int
	UNKTokenID     int
	Tokens         []string
	Scores         []float32
	Merges         []string
	TokenTypes     []int32
}

// TokenString returns the string for a token id when available.
func (t TokenizerConfig) TokenString(id int) string {
	if id < 0 || id >= len(t.Tokens) {
		return ""
	}
	return t.Tokens[id]
}

// ConfigFromGGUF reads the tokenizer.ggml.* metadata of a model file.
// Missing special ids are -1, except the unknown id which falls back to
// the "<unk>" token and then to 0.
func ConfigFromGGUF(kv map[string]gguf.Value) (TokenizerConfig, error) {
	tok := TokenizerConfig{
		Model:      "gpt2",
		BOSTokenID: -1,
		EOSTokenID: -1,
		PADTokenID: -1,
		UNKTokenID: -1,
	}
	tokens, ok := gguf.GetArray[string](kv, "tokenizer.ggml.tokens")
	if !ok || len(tokens) == 0 {
		return tok, ErrNoVocabulary
	}
	tok.Tokens = tokens

	if s, ok := gguf.GetString(kv, "tokenizer.ggml.model"); ok && s != "" {
		tok.Model = s
	}
	tok.Pre, _ = gguf.GetString(kv, "tokenizer.ggml.pre")
	tok.AddBOS = tok.Model == "llama"
	if v, ok := gguf.GetBool(kv, "tokenizer.ggml.add_bos_token"); ok {
		tok.AddBOS = v
	}
	tok.AddSpacePrefix = tok.Model == "llama"
	if v, ok := gguf.GetBool(kv, "tokenizer.ggml.add_space_prefix"); ok {
		tok.AddSpacePrefix = v
	}

	tok.BOSTokenID = tokenID(kv, len(tokens), "tokenizer.ggml.bos_token_id")
	tok.EOSTokenID = tokenID(kv, len(tokens), "tokenizer.ggml.eos_token_id")
	tok.PADTokenID = tokenID(kv, len(tokens), "tokenizer.ggml.padding_token_id")
	tok.UNKTokenID = tokenID(kv, len(tokens), "tokenizer.ggml.unknown_token_id", "tokenizer.ggml.unk_token_id")
	if tok.UNKTokenID < 0 {
		tok.UNKTokenID = 0
		for i, s := range tokens {
			if s == "<unk>" {
				tok.UNKTokenID = i
				break
			}
		}
	}

	if merges, ok := gguf.GetArray[string](kv, "tokenizer.ggml.merges"); ok {
		tok.Merges = merges
	}
	if scores, ok := gguf.GetArray[float32](kv, "tokenizer.ggml.scores"); ok {
		if len(scores) != len(tokens) {
			return tok, fmt.Errorf("tokenizer: %d scores for %d tokens", len(scores), len(tokens))
		}
		tok.Scores = scores
	}
	if types, ok := gguf.GetArray[int32](kv, "tokenizer.ggml.token_type"); ok {
		if len(types) != len(tokens) {
			return tok, fmt.Errorf("tokenizer: %d token types for %d tokens", len(types), len(tokens))
		}
		tok.TokenTypes = types
	}
	return tok, nil
}

func tokenID(kv map[string]gguf.Value, vocab int, keys ...string) int {
	for _, k := range keys {
		if v, ok := gguf.GetInt64(kv, k); ok && v >= 0 && v < int64(vocab) {
			return int(v)
		}
	}
	return -1
}
