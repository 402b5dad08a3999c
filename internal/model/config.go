package model

import (
	"fmt"
	"slices"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

// SupportedArchitectures lists the general.architecture values Load accepts.
var SupportedArchitectures = []string{"llama", "gemma"}

// Config holds the hyperparameters read from GGUF metadata.
type Config struct {
	Arch            string
	Name            string
	BlockCount      int
	EmbeddingLength int
	FFNLength       int
	HeadCount       int
	HeadCountKV     int
	HeadDim         int
	RopeDim         int
	RMSEpsilon      float64
	RopeFreqBase    float64
	RopeScaling     *RopeScaling
	ContextLength   int
	VocabSize       int
	FileType        int
}

// KVDim is the width of one cached key or value row.
func (c Config) KVDim() int { return c.HeadCountKV * c.HeadDim }

// QDim is the width of the concatenated query heads.
func (c Config) QDim() int { return c.HeadCount * c.HeadDim }

// ConfigFromGGUF reads the architecture hyperparameters. VocabSize is
// filled in by Load from the embedding tensor when the metadata omits it.
func ConfigFromGGUF(f *gguf.File) (Config, error) {
	arch, _ := gguf.GetString(f.KV, "general.architecture")
	if !slices.Contains(SupportedArchitectures, arch) {
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedArch, arch)
	}
	key := func(s string) string { return arch + "." + s }

	blockCount, err := gguf.MustGetUint64(f.KV, key("block_count"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	emb, err := gguf.MustGetUint64(f.KV, key("embedding_length"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	ffn, err := gguf.MustGetUint64(f.KV, key("feed_forward_length"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	heads, err := gguf.MustGetUint64(f.KV, key("attention.head_count"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	headsKV, ok := gguf.GetUint64(f.KV, key("attention.head_count_kv"))
	if !ok || headsKV == 0 {
		headsKV = heads
	}

	cfg := Config{
		Arch:            arch,
		BlockCount:      int(blockCount),
		EmbeddingLength: int(emb),
		FFNLength:       int(ffn),
		HeadCount:       int(heads),
		HeadCountKV:     int(headsKV),
		RMSEpsilon:      1e-5,
		RopeFreqBase:    10000,
	}
	if arch == "gemma" {
		cfg.RMSEpsilon = 1e-6
	}
	cfg.Name, _ = gguf.GetString(f.KV, "general.name")
	if v, ok := gguf.GetFloat64(f.KV, key("attention.layer_norm_rms_epsilon")); ok && v > 0 {
		cfg.RMSEpsilon = v
	}
	if v, ok := gguf.GetFloat64(f.KV, key("rope.freq_base")); ok && v > 0 {
		cfg.RopeFreqBase = v
	}
	if v, ok := gguf.GetUint64(f.KV, key("context_length")); ok {
		cfg.ContextLength = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, key("vocab_size")); ok {
		cfg.VocabSize = int(v)
	}
	if v, ok := gguf.GetUint64(f.KV, "general.file_type"); ok {
		cfg.FileType = int(v)
	}

	if cfg.BlockCount <= 0 || cfg.EmbeddingLength <= 0 || cfg.FFNLength <= 0 || cfg.HeadCount <= 0 {
		return Config{}, fmt.Errorf("%w: zero-sized hyperparameters", ErrInvalidModel)
	}
	if cfg.HeadCount%cfg.HeadCountKV != 0 {
		return Config{}, fmt.Errorf("%w: %d heads not divisible by %d kv heads", ErrInvalidModel, cfg.HeadCount, cfg.HeadCountKV)
	}
	cfg.HeadDim = cfg.EmbeddingLength / cfg.HeadCount
	if v, ok := gguf.GetUint64(f.KV, key("attention.key_length")); ok && v > 0 {
		cfg.HeadDim = int(v)
	}
	if cfg.HeadDim <= 0 || cfg.HeadDim%2 != 0 {
		return Config{}, fmt.Errorf("%w: head dim %d", ErrInvalidModel, cfg.HeadDim)
	}
	cfg.RopeDim = cfg.HeadDim
	if v, ok := gguf.GetUint64(f.KV, key("rope.dimension_count")); ok && v > 0 && int(v) <= cfg.HeadDim && v%2 == 0 {
		cfg.RopeDim = int(v)
	}
	cfg.RopeScaling = ropeScalingFromGGUF(f.KV, arch, cfg.ContextLength)
	return cfg, nil
}

// FileTypeName names the general.file_type quantization mix.
func FileTypeName(ft int) string {
	switch ft {
	case 0:
		return "F32"
	case 1:
		return "F16"
	case 2:
		return "Q4_0"
	case 3:
		return "Q4_1"
	case 7:
		return "Q8_0"
	case 14:
		return "Q4_K_S"
	case 15:
		return "Q4_K_M"
	case 18:
		return "Q6_K"
	default:
		return fmt.Sprintf("type(%d)", ft)
	}
}
