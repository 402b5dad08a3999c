// Package bridge exposes sessions to callers across a foreign-function
// boundary. Callers see integer handles and sentinel results; the reasons
// for failures go to the log and, for callers that ask, a Status code.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/minijarvis/internal/handles"
	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/session"
)

// ErrInternal wraps panics recovered at an entry point.
var ErrInternal = errors.New("internal error")

// Bridge owns a handle table of sessions. All methods are safe for
// concurrent use.
type Bridge struct {
	// Defaults supplies the sampling knobs Init does not take as arguments.
	Defaults session.SamplingConfig

	table *handles.Table[*session.Session]
	log   logger.Logger
}

func New(log logger.Logger) *Bridge {
	if log == nil {
		log = logger.Default()
	}
	return &Bridge{
		Defaults: session.DefaultSamplingConfig(),
		table:    handles.New[*session.Session](),
		log:      log,
	}
}

// Open loads a model and returns its handle.
func (b *Bridge) Open(ctx context.Context, path string, cfg session.SamplingConfig) (h int64, err error) {
	defer b.catch("init", &err)
	ctx = logger.WithContext(ctx, b.log)
	s, err := session.Load(ctx, path, cfg)
	if err != nil {
		return 0, err
	}
	return int64(b.table.Create(s)), nil
}

// Init is the sentinel form of Open: it returns 0 and logs on failure.
func (b *Bridge) Init(path string, contextSize int, temperature float32, maxTokens int) int64 {
	h, _ := b.InitStatus(path, contextSize, temperature, maxTokens)
	return h
}

// InitStatus is Init with the failure classified.
func (b *Bridge) InitStatus(path string, contextSize int, temperature float32, maxTokens int) (int64, Status) {
	cfg := b.Defaults
	cfg.ContextSize = contextSize
	cfg.Temperature = temperature
	cfg.MaxTokens = maxTokens
	h, err := b.Open(context.Background(), path, cfg)
	if err != nil {
		st := StatusOf(err)
		b.log.Error("init failed", "op", "init", "path", path, "kind", st.String(), "err", err)
		return 0, st
	}
	b.log.Info("session opened", "op", "init", "path", path, "handle", h)
	return h, StatusOK
}

// Do leases the session behind h for the duration of fn. A handle already
// in use fails with a SessionBusy GenerationError.
func (b *Bridge) Do(h int64, fn func(*session.Session) error) (err error) {
	defer b.catch("do", &err)
	lease, err := b.table.Lookup(toHandle(h))
	if errors.Is(err, handles.ErrBusy) {
		return &session.GenerationError{Kind: session.KindSessionBusy, Err: err}
	}
	if err != nil {
		return err
	}
	defer lease.Done()
	return fn(lease.Value)
}

// Generate runs one prompt through the session behind h.
func (b *Bridge) Generate(ctx context.Context, h int64, prompt string) (text string, err error) {
	err = b.Do(h, func(s *session.Session) error {
		var gerr error
		text, gerr = s.GenerateText(logger.WithContext(ctx, b.log.With("handle", h)), prompt)
		return gerr
	})
	return text, err
}

// GenerateText is the sentinel form of Generate: it returns "" and logs on
// failure.
func (b *Bridge) GenerateText(h int64, prompt string) string {
	text, _ := b.GenerateTextStatus(h, prompt)
	return text
}

// GenerateTextStatus is GenerateText with the failure classified.
func (b *Bridge) GenerateTextStatus(h int64, prompt string) (string, Status) {
	text, err := b.Generate(context.Background(), h, prompt)
	if err != nil {
		st := StatusOf(err)
		b.log.Error("generate failed", "op", "generate", "handle", h, "kind", st.String(), "err", err)
		return "", st
	}
	return text, StatusOK
}

// Reset clears the conversation held by h.
func (b *Bridge) Reset(h int64) error {
	err := b.Do(h, func(s *session.Session) error { return s.Reset() })
	if err != nil {
		b.log.Error("reset failed", "op", "reset", "handle", h, "kind", StatusOf(err).String(), "err", err)
	}
	return err
}

// Close releases h, waiting for an in-flight generation to finish first.
func (b *Bridge) Close(h int64) (err error) {
	defer b.catch("cleanup", &err)
	return b.table.Release(toHandle(h))
}

// Cleanup is the sentinel form of Close. It never fails; problems are
// logged.
func (b *Bridge) Cleanup(h int64) {
	b.CleanupStatus(h)
}

// CleanupStatus is Cleanup with the failure classified.
func (b *Bridge) CleanupStatus(h int64) Status {
	if err := b.Close(h); err != nil {
		st := StatusOf(err)
		b.log.Warn("cleanup failed", "op", "cleanup", "handle", h, "kind", st.String(), "err", err)
		return st
	}
	b.log.Info("session closed", "op", "cleanup", "handle", h)
	return StatusOK
}

// SessionInfo is a snapshot of one live session.
type SessionInfo struct {
	Handle   int64                  `json:"handle"`
	Path     string                 `json:"path"`
	Metadata session.Metadata       `json:"metadata"`
	Config   session.SamplingConfig `json:"config"`
	History  int                    `json:"history_tokens"`
	Busy     bool                   `json:"busy"`
}

// Sessions lists live sessions. Busy sessions are reported without their
// details.
func (b *Bridge) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, h := range b.table.Handles() {
		info := SessionInfo{Handle: int64(h)}
		err := b.Do(int64(h), func(s *session.Session) error {
			info.Path = s.Path()
			info.Metadata = s.Metadata()
			info.Config = s.Config()
			info.History = len(s.History())
			return nil
		})
		switch {
		case errors.Is(err, session.ErrSessionBusy):
			info.Busy = true
		case err != nil:
			continue
		}
		out = append(out, info)
	}
	return out
}

// Len reports how many sessions are live.
func (b *Bridge) Len() int { return b.table.Len() }

// Shutdown closes every session.
func (b *Bridge) Shutdown() (err error) {
	defer b.catch("shutdown", &err)
	if err := b.table.CloseAll(); err != nil {
		b.log.Error("shutdown failed", "op", "shutdown", "err", err)
		return err
	}
	return nil
}

func (b *Bridge) catch(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: panic in %s: %v", ErrInternal, op, r)
		b.log.Error("recovered panic", "op", op, "panic", r)
	}
}

func toHandle(h int64) handles.Handle {
	if h <= 0 {
		return 0
	}
	return handles.Handle(h)
}
