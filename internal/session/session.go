// Package session owns one loaded model, its tokenizer and the token
// history of a conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/samcharles93/minijarvis/internal/gguf"
	"github.com/samcharles93/minijarvis/internal/inference"
	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/logits"
	"github.com/samcharles93/minijarvis/internal/model"
	"github.com/samcharles93/minijarvis/internal/tokenizer"
)

// Session is not safe for concurrent use. Callers serialize access, which
// the handle table does with a per-entry lease.
type Session struct {
	path    string
	cfg     SamplingConfig
	file    *gguf.File
	model   *model.Instance
	tok     tokenizer.Tokenizer
	gen     *inference.Generator
	meta    Metadata
	history []int
	corrupt bool
	stats   inference.Stats
}

// Load opens a GGUF model and builds a Session around it. Every failure is
// a *LoadError and leaves nothing mapped.
func Load(ctx context.Context, path string, cfg SamplingConfig) (*Session, error) {
	log := logger.FromContext(ctx).With("path", path)
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Kind: KindInvalidConfig, Path: path, Err: err}
	}

	st, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &LoadError{Kind: KindNotFound, Path: path, Err: err}
	case err != nil:
		return nil, &LoadError{Kind: KindIOError, Path: path, Err: err}
	case st.IsDir():
		return nil, &LoadError{Kind: KindIOError, Path: path, Err: errors.New("is a directory")}
	}

	start := time.Now()
	f, err := gguf.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: classifyOpen(err), Path: path, Err: err}
	}
	s, err := build(ctx, f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, &LoadError{Kind: classifyBuild(err), Path: path, Err: err}
	}
	s.path = path
	log.Info("model loaded",
		"model", s.model.Describe(),
		"file_type", s.meta.FileType,
		"fingerprint", s.meta.FingerprintHex(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return s, nil
}

func build(ctx context.Context, f *gguf.File, cfg SamplingConfig) (*Session, error) {
	tcfg, err := tokenizer.ConfigFromGGUF(f.KV)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.New(tcfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := model.Load(f, cfg.ContextSize)
	if err != nil {
		return nil, err
	}
	if tok.VocabSize() != m.VocabSize() {
		return nil, fmt.Errorf("%w: tokenizer has %d tokens, model %d", model.ErrInvalidModel, tok.VocabSize(), m.VocabSize())
	}

	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return &Session{
		cfg:   cfg,
		file:  f,
		model: m,
		tok:   tok,
		meta:  metadataOf(f, m.Config),
		gen: &inference.Generator{
			Model:      m,
			Sampler:    logits.NewSampler(cfg.samplerConfig(seed)),
			StopTokens: inference.StopTokens(tok),
			MaxContext: cfg.ContextSize,
		},
	}, nil
}

func classifyOpen(err error) Kind {
	switch {
	case errors.Is(err, gguf.ErrTruncated):
		return KindTruncated
	case errors.Is(err, gguf.ErrInvalidMagic),
		errors.Is(err, gguf.ErrUnsupportedVersion),
		errors.Is(err, gguf.ErrMalformed),
		errors.Is(err, gguf.ErrUnsupportedType):
		return KindUnsupportedFormat
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	default:
		return KindIOError
	}
}

func classifyBuild(err error) Kind {
	switch {
	case errors.Is(err, model.ErrOutOfMemory):
		return KindOutOfMemory
	case errors.Is(err, gguf.ErrTruncated):
		return KindTruncated
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindIOError
	default:
		return KindUnsupportedFormat
	}
}

func (s *Session) Path() string                   { return s.path }
func (s *Session) Config() SamplingConfig         { return s.cfg }
func (s *Session) Metadata() Metadata             { return s.meta }
func (s *Session) Tokenizer() tokenizer.Tokenizer { return s.tok }
func (s *Session) Stats() inference.Stats         { return s.stats }
func (s *Session) History() []int                 { return slices.Clone(s.history) }
func (s *Session) Corrupt() bool                  { return s.corrupt }

// Describe returns the model summary, or "closed".
func (s *Session) Describe() string {
	if s.model == nil {
		return "closed"
	}
	return s.model.Describe()
}

func (s *Session) validTokens(ids []int) (int, bool) {
	return firstInvalid(ids, s.tok.VocabSize())
}

func firstInvalid(ids []int, vocab int) (int, bool) {
	for i, id := range ids {
		if id < 0 || id >= vocab {
			return i, false
		}
	}
	return -1, true
}

// Generate appends prompt to the history and decodes up to MaxTokens new
// tokens. Only the new tokens are returned; the end-of-sequence token is
// neither returned nor kept in the history.
func (s *Session) Generate(ctx context.Context, prompt []int) ([]int, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if i, ok := s.validTokens(prompt); !ok {
		// The history is untouched, so the session stays usable.
		return nil, &GenerationError{Kind: KindSessionCorrupt, Err: fmt.Errorf("prompt token %d: id %d outside vocabulary of %d", i, prompt[i], s.tok.VocabSize())}
	}

	s.history = append(s.history, prompt...)
	// Keep one free slot so the window always has room for a new token.
	keep := max(s.cfg.ContextSize-1, 1)
	if over := len(s.history) - keep; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}

	out, stats, err := s.gen.RunWithContext(ctx, s.history, s.cfg.MaxTokens)
	s.history = append(s.history, out...)
	s.stats = stats
	if err != nil {
		return out, s.fail(err)
	}
	logger.FromContext(ctx).Debug("generated",
		"prompt_tokens", stats.PromptTokens,
		"tokens", stats.TokensGenerated,
		"tps", fmt.Sprintf("%.1f", stats.TPS),
		"stop", stats.StopReason,
	)
	return out, nil
}

// GenerateText encodes prompt, generates and decodes the new tokens. BOS is
// prepended to the first prompt of a conversation when the model wants it.
func (s *Session) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	ids := s.tok.Encode(prompt)
	if len(s.history) == 0 && s.tok.AddBOS() && s.tok.BOSID() >= 0 {
		ids = slices.Insert(ids, 0, s.tok.BOSID())
	}
	out, err := s.Generate(ctx, ids)
	if err != nil {
		return "", err
	}
	return s.tok.Decode(out), nil
}

// Reset forgets the conversation. A session marked corrupt by a failed
// generation becomes usable again once the model state is cleared.
func (s *Session) Reset() error {
	if s.model == nil {
		return &GenerationError{Kind: KindSessionCorrupt, Err: errors.New("session is closed")}
	}
	s.history = s.history[:0]
	s.stats = inference.Stats{}
	if err := s.gen.Reset(); err != nil {
		return s.fail(err)
	}
	s.corrupt = false
	return nil
}

// Close drops the model and unmaps the file. It is safe to call twice.
func (s *Session) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	s.model = nil
	s.gen = nil
	s.history = nil
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Session) check() error {
	switch {
	case s.model == nil || s.gen == nil:
		return &GenerationError{Kind: KindSessionCorrupt, Err: errors.New("session is closed")}
	case s.corrupt:
		return &GenerationError{Kind: KindSessionCorrupt, Err: errors.New("session failed a previous generation; reset it")}
	case len(s.history) > s.cfg.ContextSize:
		s.corrupt = true
		return &GenerationError{Kind: KindSessionCorrupt, Err: fmt.Errorf("history of %d tokens exceeds context %d", len(s.history), s.cfg.ContextSize)}
	}
	if i, ok := s.validTokens(s.history); !ok {
		s.corrupt = true
		return &GenerationError{Kind: KindSessionCorrupt, Err: fmt.Errorf("history token %d is outside the vocabulary", i)}
	}
	return nil
}

// fail converts a decode error into a GenerationError. Anything other than
// cancellation leaves the KV cache in an unknown state.
func (s *Session) fail(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("generate: %w", err)
	}
	s.corrupt = true
	var pe *inference.PanicError
	switch {
	case errors.As(err, &pe) && isAllocPanic(pe.Value):
		return &GenerationError{Kind: KindOutOfMemory, Err: err}
	case errors.Is(err, model.ErrOutOfMemory):
		return &GenerationError{Kind: KindOutOfMemory, Err: err}
	default:
		return &GenerationError{Kind: KindSessionCorrupt, Err: err}
	}
}

func isAllocPanic(v any) bool {
	var msg string
	switch x := v.(type) {
	case runtime.Error:
		msg = x.Error()
	case error:
		msg = x.Error()
	case string:
		msg = x
	default:
		return false
	}
	for _, s := range []string{"makeslice", "growslice", "makemap", "out of memory"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
