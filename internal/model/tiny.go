package model

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

// TinyOptions shapes a synthetic model written by WriteTiny.
type TinyOptions struct {
	Arch          string
	Layers        int
	Embd          int
	Heads         int
	KVHeads       int
	FFN           int
	ContextLength int
	Seed          int64
	// Quantize stores matrices as Q8_0 instead of F32.
	Quantize bool
	// Favor makes greedy decoding always pick this token id. -1 disables.
	Favor int
}

func DefaultTinyOptions() TinyOptions {
	return TinyOptions{
		Arch:          "llama",
		Layers:        2,
		Embd:          64,
		Heads:         4,
		KVHeads:       2,
		FFN:           128,
		ContextLength: 256,
		Seed:          1,
		Favor:         -1,
	}
}

// Tiny vocabulary layout: three control tokens, the 256 byte symbols, then
// a handful of merged pieces.
const (
	TinyUNK = 0
	TinyBOS = 1
	TinyEOS = 2
)

var tinyMerges = []string{"h e", "l l", "he ll", "hell o", "Ġ w", "Ġw o"}

// TinyTokens returns the vocabulary WriteTiny stores.
func TinyTokens() []string {
	tokens := []string{"<unk>", "<s>", "</s>"}
	var n int
	for b := range 256 {
		var r rune
		switch {
		case b >= '!' && b <= '~', b >= 0xA1 && b <= 0xAC, b >= 0xAE && b <= 0xFF:
			r = rune(b)
		default:
			r = rune(256 + n)
			n++
		}
		tokens = append(tokens, string(r))
	}
	return append(tokens, "he", "ll", "hell", "hello", "Ġw", "Ġwo")
}

// WriteTiny writes a small randomly initialised model with a byte-level
// vocabulary. It is deterministic for a given Seed.
func WriteTiny(path string, opts TinyOptions) error {
	if opts.Arch == "" {
		opts.Arch = "llama"
	}
	if opts.Arch != "llama" && opts.Arch != "gemma" {
		return fmt.Errorf("%w: %q", ErrUnsupportedArch, opts.Arch)
	}
	if opts.Layers <= 0 || opts.Embd <= 0 || opts.Heads <= 0 || opts.FFN <= 0 {
		return fmt.Errorf("tiny model: zero-sized options")
	}
	if opts.KVHeads <= 0 {
		opts.KVHeads = opts.Heads
	}
	if opts.Embd%opts.Heads != 0 || opts.Heads%opts.KVHeads != 0 {
		return fmt.Errorf("tiny model: embd %d, heads %d, kv heads %d do not divide", opts.Embd, opts.Heads, opts.KVHeads)
	}
	if opts.Quantize && (opts.Embd%gguf.QK8_0 != 0 || opts.FFN%gguf.QK8_0 != 0) {
		return fmt.Errorf("tiny model: embd and ffn must be multiples of %d to quantize", gguf.QK8_0)
	}

	tokens := TinyTokens()
	vocab := len(tokens)
	if opts.Favor >= vocab {
		return fmt.Errorf("tiny model: favored token %d outside vocabulary of %d", opts.Favor, vocab)
	}
	types := make([]int32, vocab)
	for i := range types {
		types[i] = 1
	}
	types[TinyUNK] = 2
	types[TinyBOS] = 3
	types[TinyEOS] = 3

	a := opts.Arch
	w := gguf.NewWriter()
	fileType := uint32(0)
	if opts.Quantize {
		fileType = 7
	}
	headDim := opts.Embd / opts.Heads
	meta := []struct {
		k string
		v any
	}{
		{"general.architecture", a},
		{"general.name", "tiny-" + a},
		{"general.file_type", fileType},
		{a + ".context_length", uint32(opts.ContextLength)},
		{a + ".embedding_length", uint32(opts.Embd)},
		{a + ".block_count", uint32(opts.Layers)},
		{a + ".feed_forward_length", uint32(opts.FFN)},
		{a + ".attention.head_count", uint32(opts.Heads)},
		{a + ".attention.head_count_kv", uint32(opts.KVHeads)},
		{a + ".attention.layer_norm_rms_epsilon", float32(1e-5)},
		{a + ".rope.freq_base", float32(10000)},
		{a + ".rope.dimension_count", uint32(headDim)},
		{"tokenizer.ggml.model", "gpt2"},
		{"tokenizer.ggml.tokens", tokens},
		{"tokenizer.ggml.token_type", types},
		{"tokenizer.ggml.merges", tinyMerges},
		{"tokenizer.ggml.bos_token_id", uint32(TinyBOS)},
		{"tokenizer.ggml.eos_token_id", uint32(TinyEOS)},
		{"tokenizer.ggml.unknown_token_id", uint32(TinyUNK)},
		{"tokenizer.ggml.add_bos_token", true},
	}
	for _, kv := range meta {
		if err := w.Set(kv.k, kv.v); err != nil {
			return err
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	randn := func(n int, scale float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(rng.NormFloat64()) * scale
		}
		return out
	}
	ones := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	// With Favor set, channel 0 carries a constant through every layer and
	// only the favored output row reads it.
	favor := opts.Favor >= 0
	addMat := func(name string, cols, rows int, zeroRow0 bool) error {
		vals := randn(cols*rows, 0.1)
		if favor && zeroRow0 {
			clear(vals[:cols])
		}
		return addF32OrQ8(w, name, cols, rows, vals, opts.Quantize)
	}

	emb := randn(opts.Embd*vocab, 0.1)
	out := randn(opts.Embd*vocab, 0.1)
	if favor {
		for t := range vocab {
			emb[t*opts.Embd] = 3
			out[t*opts.Embd] = 0
		}
		out[opts.Favor*opts.Embd] = 20
		if a == "gemma" {
			emb[opts.Favor*opts.Embd] = 20
		}
	}
	if err := addF32OrQ8(w, "token_embd.weight", opts.Embd, vocab, emb, opts.Quantize); err != nil {
		return err
	}
	if a == "llama" {
		if err := addF32OrQ8(w, "output.weight", opts.Embd, vocab, out, opts.Quantize); err != nil {
			return err
		}
	}
	if err := w.AddTensorF32("output_norm.weight", []uint64{uint64(opts.Embd)}, ones(opts.Embd)); err != nil {
		return err
	}

	qDim := opts.Embd
	kvDim := opts.KVHeads * headDim
	for i := range opts.Layers {
		name := func(s string) string { return fmt.Sprintf("blk.%d.%s.weight", i, s) }
		if err := w.AddTensorF32(name("attn_norm"), []uint64{uint64(opts.Embd)}, ones(opts.Embd)); err != nil {
			return err
		}
		if err := w.AddTensorF32(name("ffn_norm"), []uint64{uint64(opts.Embd)}, ones(opts.Embd)); err != nil {
			return err
		}
		mats := []struct {
			name       string
			cols, rows int
			zeroRow0   bool
		}{
			{"attn_q", opts.Embd, qDim, false},
			{"attn_k", opts.Embd, kvDim, false},
			{"attn_v", opts.Embd, kvDim, false},
			{"attn_output", qDim, opts.Embd, true},
			{"ffn_gate", opts.Embd, opts.FFN, false},
			{"ffn_up", opts.Embd, opts.FFN, false},
			{"ffn_down", opts.FFN, opts.Embd, true},
		}
		for _, m := range mats {
			if err := addMat(name(m.name), m.cols, m.rows, m.zeroRow0); err != nil {
				return err
			}
		}
	}
	return w.WriteFile(path)
}

func addF32OrQ8(w *gguf.Writer, name string, cols, rows int, vals []float32, quantize bool) error {
	dims := []uint64{uint64(cols), uint64(rows)}
	if !quantize {
		return w.AddTensorF32(name, dims, vals)
	}
	enc, err := gguf.QuantizeQ8_0(vals)
	if err != nil {
		return err
	}
	return w.AddTensor(name, gguf.GGMLTypeQ8_0, dims, enc)
}
