package model

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

func openTiny(t *testing.T, opts TinyOptions) *gguf.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiny.gguf")
	if err := WriteTiny(path, opts); err != nil {
		t.Fatalf("WriteTiny: %v", err)
	}
	f, err := gguf.Open(path)
	if err != nil {
		t.Fatalf("gguf.Open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func argmaxOf(x []float32) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

func TestLoadTinyModels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mut  func(*TinyOptions)
	}{
		{"llama f32", func(*TinyOptions) {}},
		{"llama q8_0", func(o *TinyOptions) { o.Quantize = true }},
		{"gemma f32", func(o *TinyOptions) { o.Arch = "gemma" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := DefaultTinyOptions()
			tc.mut(&opts)
			m, err := Load(openTiny(t, opts), 16)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if m.VocabSize() != len(TinyTokens()) {
				t.Fatalf("vocab = %d, want %d", m.VocabSize(), len(TinyTokens()))
			}
			logits, err := m.ForwardToken(TinyBOS)
			if err != nil {
				t.Fatalf("ForwardToken: %v", err)
			}
			if len(logits) != m.VocabSize() {
				t.Fatalf("logits len = %d", len(logits))
			}
			for i, v := range logits {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("logit %d not finite: %v", i, v)
				}
			}
			if m.Pos() != 1 {
				t.Fatalf("pos = %d, want 1", m.Pos())
			}
			if m.Describe() == "" {
				t.Fatalf("empty description")
			}
		})
	}
}

func TestForwardIsDeterministicAcrossReset(t *testing.T) {
	t.Parallel()

	m, err := Load(openTiny(t, DefaultTinyOptions()), 8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	run := func() []float32 {
		var out []float32
		for _, id := range []int{TinyBOS, 40, 41, 42} {
			logits, err := m.ForwardToken(id)
			if err != nil {
				t.Fatalf("ForwardToken: %v", err)
			}
			out = append([]float32(nil), logits...)
		}
		return out
	}
	first := run()
	m.Reset()
	if m.Pos() != 0 {
		t.Fatalf("pos after reset = %d", m.Pos())
	}
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("logit %d differs after reset: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestFavoredTokenWinsArgmax(t *testing.T) {
	t.Parallel()

	for _, arch := range []string{"llama", "gemma"} {
		opts := DefaultTinyOptions()
		opts.Arch = arch
		opts.Favor = 50
		m, err := Load(openTiny(t, opts), 8)
		if err != nil {
			t.Fatalf("%s Load: %v", arch, err)
		}
		for _, id := range []int{TinyBOS, 60, 70} {
			logits, err := m.ForwardToken(id)
			if err != nil {
				t.Fatalf("%s ForwardToken: %v", arch, err)
			}
			if got := argmaxOf(logits); got != 50 {
				t.Fatalf("%s argmax = %d, want 50", arch, got)
			}
		}
	}
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()

	m, err := Load(openTiny(t, DefaultTinyOptions()), 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.ForwardToken(-1); !errors.Is(err, ErrTokenRange) {
		t.Fatalf("expected ErrTokenRange, got %v", err)
	}
	if _, err := m.ForwardToken(m.VocabSize()); !errors.Is(err, ErrTokenRange) {
		t.Fatalf("expected ErrTokenRange, got %v", err)
	}
	for range 2 {
		if _, err := m.ForwardToken(TinyBOS); err != nil {
			t.Fatalf("ForwardToken: %v", err)
		}
	}
	if _, err := m.ForwardToken(TinyBOS); !errors.Is(err, ErrContextFull) {
		t.Fatalf("expected ErrContextFull, got %v", err)
	}
}

func TestLoadRejectsUnsupportedArchitecture(t *testing.T) {
	t.Parallel()

	w := gguf.NewWriter()
	_ = w.Set("general.architecture", "mamba")
	path := filepath.Join(t.TempDir(), "mamba.gguf")
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := gguf.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := Load(f, 8); !errors.Is(err, ErrUnsupportedArch) {
		t.Fatalf("expected ErrUnsupportedArch, got %v", err)
	}
}

func TestLoadRejectsMissingTensor(t *testing.T) {
	t.Parallel()

	w := gguf.NewWriter()
	_ = w.Set("general.architecture", "llama")
	_ = w.Set("llama.block_count", uint32(1))
	_ = w.Set("llama.embedding_length", uint32(4))
	_ = w.Set("llama.feed_forward_length", uint32(8))
	_ = w.Set("llama.attention.head_count", uint32(2))
	if err := w.AddTensorF32("token_embd.weight", []uint64{4, 3}, make([]float32, 12)); err != nil {
		t.Fatalf("AddTensorF32: %v", err)
	}
	path := filepath.Join(t.TempDir(), "partial.gguf")
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := gguf.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := Load(f, 8); err == nil {
		t.Fatalf("expected error for missing tensors")
	}
}

func TestAllocateRejectsOverflow(t *testing.T) {
	t.Parallel()

	m, err := Load(openTiny(t, DefaultTinyOptions()), 8)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.MaxContext = math.MaxInt / 2
	if err := m.allocate(); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestAllocateRejectsContextOverBudget(t *testing.T) {
	t.Parallel()

	f := openTiny(t, DefaultTinyOptions())
	if _, err := Load(f, math.MaxInt32); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if budget := cacheBudget(); budget <= 0 || budget > DefaultMaxBufferBytes {
		t.Fatalf("cacheBudget() = %d", budget)
	}
}

// Not parallel: it changes the process-wide buffer cap.
func TestMaxBufferBytes(t *testing.T) {
	prev := SetMaxBufferBytes(1 << 20)
	t.Cleanup(func() { SetMaxBufferBytes(prev) })

	f := openTiny(t, DefaultTinyOptions())
	if _, err := Load(f, 256); err != nil {
		t.Fatalf("Load(256) under a 1 MiB cap: %v", err)
	}
	if _, err := Load(f, 4096); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Load(4096) under a 1 MiB cap: %v", err)
	}
	if got := SetMaxBufferBytes(0); got != 1<<20 {
		t.Fatalf("previous cap = %d", got)
	}
	if got := SetMaxBufferBytes(1 << 20); got != DefaultMaxBufferBytes {
		t.Fatalf("cap after reset = %d, want default", got)
	}
}
