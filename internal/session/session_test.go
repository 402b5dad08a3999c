package session

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/minijarvis/internal/gguf"
	"github.com/samcharles93/minijarvis/internal/inference"
	"github.com/samcharles93/minijarvis/internal/model"
)

// tinyHello is the id of the merged "hello" token in the tiny vocabulary.
const tinyHello = 262

func writeTiny(t *testing.T, mut func(*model.TinyOptions)) string {
	t.Helper()
	opts := model.DefaultTinyOptions()
	opts.Favor = tinyHello
	if mut != nil {
		mut(&opts)
	}
	path := filepath.Join(t.TempDir(), "tiny.gguf")
	if err := model.WriteTiny(path, opts); err != nil {
		t.Fatalf("WriteTiny: %v", err)
	}
	return path
}

func greedyConfig() SamplingConfig {
	cfg := DefaultSamplingConfig()
	cfg.ContextSize = 64
	cfg.Temperature = 0
	cfg.MaxTokens = 3
	cfg.Seed = 1
	return cfg
}

func loadTiny(t *testing.T, path string, cfg SamplingConfig) *Session {
	t.Helper()
	s, err := Load(context.Background(), path, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadReportsMetadata(t *testing.T) {
	t.Parallel()

	path := writeTiny(t, nil)
	s := loadTiny(t, path, greedyConfig())
	md := s.Metadata()
	if md.Architecture != "llama" || md.Name != "tiny-llama" {
		t.Fatalf("metadata = %+v", md)
	}
	if md.GGUFVersion != 3 || md.FileType != "F32" {
		t.Fatalf("metadata = %+v", md)
	}
	if md.VocabSize != len(model.TinyTokens()) || md.ContextLength != 256 {
		t.Fatalf("metadata = %+v", md)
	}
	if md.TensorCount == 0 || md.FileSize == 0 || md.Fingerprint == 0 {
		t.Fatalf("metadata = %+v", md)
	}
	if len(md.FingerprintHex()) != 16 {
		t.Fatalf("fingerprint hex = %q", md.FingerprintHex())
	}

	again := loadTiny(t, path, greedyConfig())
	if again.Metadata().Fingerprint != md.Fingerprint {
		t.Fatalf("fingerprint changed between loads")
	}
}

func TestGreedyGenerateText(t *testing.T) {
	t.Parallel()

	for _, arch := range []string{"llama", "gemma"} {
		path := writeTiny(t, func(o *model.TinyOptions) { o.Arch = arch })
		s := loadTiny(t, path, greedyConfig())
		got, err := s.GenerateText(context.Background(), "hi")
		if err != nil {
			t.Fatalf("%s GenerateText: %v", arch, err)
		}
		if got != "hellohellohello" {
			t.Fatalf("%s text = %q", arch, got)
		}
		// BOS, "h", "i" and the three generated tokens.
		if want := []int{model.TinyBOS, 'h' + 3, 'i' + 3, tinyHello, tinyHello, tinyHello}; !slices.Equal(s.History(), want) {
			t.Fatalf("%s history = %v, want %v", arch, s.History(), want)
		}
		if st := s.Stats(); st.TokensGenerated != 3 || st.StopReason != inference.StopMaxTokens {
			t.Fatalf("%s stats = %+v", arch, st)
		}
	}
}

func TestGenerateQuantizedModel(t *testing.T) {
	t.Parallel()

	s := loadTiny(t, writeTiny(t, func(o *model.TinyOptions) { o.Quantize = true }), greedyConfig())
	got, err := s.GenerateText(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "hellohellohello" {
		t.Fatalf("text = %q", got)
	}
	if s.Metadata().FileType != "Q8_0" {
		t.Fatalf("file type = %q", s.Metadata().FileType)
	}
}

func TestSampledGenerationIsDeterministicForSeed(t *testing.T) {
	t.Parallel()

	path := writeTiny(t, func(o *model.TinyOptions) { o.Favor = -1 })
	cfg := greedyConfig()
	cfg.Temperature = 1.5
	cfg.MaxTokens = 8
	cfg.Seed = 42

	run := func() []int {
		s := loadTiny(t, path, cfg)
		out, err := s.Generate(context.Background(), []int{model.TinyBOS, 40, 41})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return out
	}
	first, second := run(), run()
	if !slices.Equal(first, second) {
		t.Fatalf("same seed produced %v and %v", first, second)
	}
	for _, id := range first {
		if id < 0 || id >= len(model.TinyTokens()) {
			t.Fatalf("token %d outside vocabulary", id)
		}
	}
}

func TestGenerateStopsAtEOS(t *testing.T) {
	t.Parallel()

	s := loadTiny(t, writeTiny(t, func(o *model.TinyOptions) { o.Favor = model.TinyEOS }), greedyConfig())
	out, err := s.Generate(context.Background(), []int{model.TinyBOS, 50})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out = %v, want nothing", out)
	}
	if s.Stats().StopReason != inference.StopEOS {
		t.Fatalf("stop reason = %q", s.Stats().StopReason)
	}
	if slices.Contains(s.History(), model.TinyEOS) {
		t.Fatalf("EOS kept in history: %v", s.History())
	}
}

func TestHistoryStaysWithinContext(t *testing.T) {
	t.Parallel()

	cfg := greedyConfig()
	cfg.ContextSize = 8
	cfg.MaxTokens = 100
	s := loadTiny(t, writeTiny(t, nil), cfg)

	ctx := context.Background()
	out, err := s.GenerateText(ctx, "hi")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if out != strings.Repeat("hello", 5) {
		t.Fatalf("text = %q", out)
	}
	if s.Stats().StopReason != inference.StopContextFull {
		t.Fatalf("stop reason = %q", s.Stats().StopReason)
	}
	for range 3 {
		if _, err := s.GenerateText(ctx, "a long prompt that overflows"); err != nil {
			t.Fatalf("GenerateText: %v", err)
		}
		if n := len(s.History()); n > cfg.ContextSize {
			t.Fatalf("history has %d tokens, context is %d", n, cfg.ContextSize)
		}
	}
}

func TestResetReplaysFromScratch(t *testing.T) {
	t.Parallel()

	s := loadTiny(t, writeTiny(t, nil), greedyConfig())
	ctx := context.Background()
	first, err := s.GenerateText(ctx, "hi")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(s.History()) != 0 {
		t.Fatalf("history after reset = %v", s.History())
	}
	second, err := s.GenerateText(ctx, "hi")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if first != second {
		t.Fatalf("outputs differ after reset: %q vs %q", first, second)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	textFile := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textFile, []byte("this is not a model file"), 0o644); err != nil {
		t.Fatal(err)
	}

	tiny := writeTiny(t, nil)
	raw, err := os.ReadFile(tiny)
	if err != nil {
		t.Fatal(err)
	}
	cut := filepath.Join(dir, "cut.gguf")
	if err := os.WriteFile(cut, raw[:len(raw)-1024], 0o644); err != nil {
		t.Fatal(err)
	}

	mamba := filepath.Join(dir, "mamba.gguf")
	w := gguf.NewWriter()
	_ = w.Set("general.architecture", "mamba")
	_ = w.Set("tokenizer.ggml.tokens", []string{"a", "b"})
	if err := w.WriteFile(mamba); err != nil {
		t.Fatal(err)
	}

	noVocab := filepath.Join(dir, "novocab.gguf")
	w = gguf.NewWriter()
	_ = w.Set("general.architecture", "llama")
	if err := w.WriteFile(noVocab); err != nil {
		t.Fatal(err)
	}

	bad := func(mut func(*SamplingConfig)) SamplingConfig {
		cfg := greedyConfig()
		mut(&cfg)
		return cfg
	}

	cases := []struct {
		name string
		path string
		cfg  SamplingConfig
		kind Kind
		want error
	}{
		{"missing", filepath.Join(dir, "missing.gguf"), greedyConfig(), KindNotFound, ErrNotFound},
		{"directory", dir, greedyConfig(), KindIOError, ErrIO},
		{"text file", textFile, greedyConfig(), KindUnsupportedFormat, ErrUnsupportedFormat},
		{"truncated", cut, greedyConfig(), KindTruncated, ErrTruncated},
		{"unsupported arch", mamba, greedyConfig(), KindUnsupportedFormat, ErrUnsupportedFormat},
		{"no vocabulary", noVocab, greedyConfig(), KindUnsupportedFormat, ErrUnsupportedFormat},
		{"zero context", tiny, bad(func(c *SamplingConfig) { c.ContextSize = 0 }), KindInvalidConfig, ErrInvalidConfig},
		{"negative temperature", tiny, bad(func(c *SamplingConfig) { c.Temperature = -0.5 }), KindInvalidConfig, ErrInvalidConfig},
		{"nan temperature", tiny, bad(func(c *SamplingConfig) { c.Temperature = float32(math.NaN()) }), KindInvalidConfig, ErrInvalidConfig},
		{"zero max tokens", tiny, bad(func(c *SamplingConfig) { c.MaxTokens = 0 }), KindInvalidConfig, ErrInvalidConfig},
		{"bad top_p", tiny, bad(func(c *SamplingConfig) { c.TopP = 2 }), KindInvalidConfig, ErrInvalidConfig},
		{"huge context", tiny, bad(func(c *SamplingConfig) { c.ContextSize = math.MaxInt / 2 }), KindOutOfMemory, ErrOutOfMemory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := Load(context.Background(), tc.path, tc.cfg)
			if err == nil {
				_ = s.Close()
				t.Fatalf("expected error")
			}
			if s != nil {
				t.Fatalf("partial session returned with %v", err)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("error %v is not %v", err, tc.want)
			}
			var le *LoadError
			if !errors.As(err, &le) || le.Kind != tc.kind || le.Path != tc.path {
				t.Fatalf("load error = %#v", err)
			}
			if KindOf(err) != tc.kind {
				t.Fatalf("KindOf = %v, want %v", KindOf(err), tc.kind)
			}
		})
	}
}

func TestGenerateRejectsOutOfRangePrompt(t *testing.T) {
	t.Parallel()

	s := loadTiny(t, writeTiny(t, nil), greedyConfig())
	_, err := s.Generate(context.Background(), []int{model.TinyBOS, 100000})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Kind != KindSessionCorrupt || !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected a SessionCorrupt GenerationError, got %#v", err)
	}
	if s.Corrupt() || len(s.History()) != 0 {
		t.Fatalf("rejected prompt changed the session")
	}
	if _, err := s.Generate(context.Background(), []int{model.TinyBOS}); err != nil {
		t.Fatalf("session unusable after a rejected prompt: %v", err)
	}
}

func TestCorruptSessionFailsUntilReset(t *testing.T) {
	t.Parallel()

	s := loadTiny(t, writeTiny(t, nil), greedyConfig())
	s.corrupt = true
	if _, err := s.GenerateText(context.Background(), "hi"); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := s.GenerateText(context.Background(), "hi"); err != nil {
		t.Fatalf("GenerateText after reset: %v", err)
	}
}

func TestCancelledGenerationKeepsSessionUsable(t *testing.T) {
	t.Parallel()

	s := loadTiny(t, writeTiny(t, nil), greedyConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GenerateText(ctx, "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Corrupt() {
		t.Fatalf("cancellation marked the session corrupt")
	}
	if _, err := s.GenerateText(context.Background(), "hi"); err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := Load(context.Background(), writeTiny(t, nil), greedyConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.GenerateText(context.Background(), "hi"); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt after close, got %v", err)
	}
	if s.Describe() != "closed" {
		t.Fatalf("describe = %q", s.Describe())
	}
}

func TestFailClassifiesPanics(t *testing.T) {
	t.Parallel()

	allocPanic := func() (v any) {
		defer func() { v = recover() }()
		n := -1
		_ = make([]byte, n)
		return nil
	}()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"allocation panic", &inference.PanicError{Op: "ForwardToken", Value: allocPanic}, ErrOutOfMemory},
		{"other panic", &inference.PanicError{Op: "ForwardToken", Value: "index out of range"}, ErrSessionCorrupt},
		{"model oom", model.ErrOutOfMemory, ErrOutOfMemory},
		{"forward error", model.ErrContextFull, ErrSessionCorrupt},
	}
	for _, tc := range cases {
		s := &Session{}
		err := s.fail(tc.err)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: %v is not %v", tc.name, err, tc.want)
		}
		if !s.corrupt {
			t.Fatalf("%s: session not marked corrupt", tc.name)
		}
	}
}
