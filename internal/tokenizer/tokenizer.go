// Package tokenizer converts between text and model token ids using the
// vocabulary stored in a GGUF file.
package tokenizer

import "fmt"

// Tokenizer is total in both directions: every string encodes and every
// id sequence decodes.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	TokenString(id int) string
	VocabSize() int
	BOSID() int
	EOSID() int
	UNKID() int
	AddBOS() bool
}

// New builds the tokenizer named by cfg.Model.
func New(cfg TokenizerConfig) (Tokenizer, error) {
	if len(cfg.Tokens) == 0 {
		return nil, ErrNoVocabulary
	}
	switch cfg.Model {
	case "gpt2", "":
		return NewGPT2(cfg)
	case "llama":
		return NewSPM(cfg)
	default:
		return nil, fmt.Errorf("tokenizer: unsupported model %q", cfg.Model)
	}
}

// vocab holds what both tokenizer kinds share.
type vocab struct {
	encoder map[string]int
	decoder []string
	control []bool
	addBOS  bool
	bosID   int
	eosID   int
	unkID   int
}

func newVocab(cfg TokenizerConfig) vocab {
	v := vocab{
		encoder: make(map[string]int, len(cfg.Tokens)),
		decoder: append([]string(nil), cfg.Tokens...),
		control: make([]bool, len(cfg.Tokens)),
		addBOS:  cfg.AddBOS && cfg.BOSTokenID >= 0,
		bosID:   cfg.BOSTokenID,
		eosID:   cfg.EOSTokenID,
		unkID:   cfg.UNKTokenID,
	}
	for i, t := range cfg.Tokens {
		if _, dup := v.encoder[t]; !dup {
			v.encoder[t] = i
		}
	}
	for i, tt := range cfg.TokenTypes {
		if tt == TokenTypeControl || tt == TokenTypeUnknown {
			v.control[i] = true
		}
	}
	specials := []int{cfg.BOSTokenID, cfg.EOSTokenID, cfg.PADTokenID}
	if len(cfg.TokenTypes) == 0 {
		// Without types the unknown id may be a fallback onto a real token.
		if cfg.UNKTokenID >= 0 && cfg.TokenString(cfg.UNKTokenID) == "<unk>" {
			specials = append(specials, cfg.UNKTokenID)
		}
	}
	for _, id := range specials {
		if id >= 0 && id < len(v.control) {
			v.control[id] = true
		}
	}
	if v.unkID < 0 || v.unkID >= len(v.decoder) {
		v.unkID = 0
	}
	return v
}

// skip reports whether id is dropped by Decode.
func (v *vocab) skip(id int) bool {
	return id < 0 || id >= len(v.decoder) || v.control[id]
}

func (v *vocab) TokenString(id int) string {
	if id < 0 || id >= len(v.decoder) {
		return ""
	}
	return v.decoder[id]
}

func (v *vocab) VocabSize() int { return len(v.decoder) }
func (v *vocab) BOSID() int     { return v.bosID }
func (v *vocab) EOSID() int     { return v.eosID }
func (v *vocab) UNKID() int     { return v.unkID }
func (v *vocab) AddBOS() bool   { return v.addBOS }
