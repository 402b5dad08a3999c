// Package inference runs the autoregressive decode loop over a model.
package inference

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/minijarvis/internal/logits"
	"github.com/samcharles93/minijarvis/internal/model"
)

type StopReason string

const (
	StopNone        StopReason = ""
	StopEOS         StopReason = "eos"
	StopMaxTokens   StopReason = "max_tokens"
	StopContextFull StopReason = "context_full"
	StopCanceled    StopReason = "canceled"
)

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
	StopReason      StopReason
}

// PanicError carries a value recovered from the model or sampler.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
}

// Generator manages the state of a generation session. ContextTokens is
// exactly what the model has consumed since its last Reset.
type Generator struct {
	Model         model.Model
	Sampler       *logits.Sampler
	StopTokens    []int
	MaxContext    int
	ContextTokens []int

	last []float32
	work []float32
}

// Reset clears the model and the consumed-token record.
func (g *Generator) Reset() error {
	g.ContextTokens = g.ContextTokens[:0]
	g.last = g.last[:0]
	return safeReset(g.Model)
}

// RunWithContext continues generation after window, the full token history
// the caller wants conditioned on. The KV cache is reused when window
// extends what the model already consumed. It returns only new tokens;
// stop tokens are never returned.
func (g *Generator) RunWithContext(ctx context.Context, window []int, maxTokens int) (out []int, stats Stats, err error) {
	stats.PromptTokens = len(window)
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
		if stats.Duration.Seconds() > 0 {
			stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
		}
	}()

	reuse := len(g.ContextTokens) <= len(window) &&
		slices.Equal(g.ContextTokens, window[:len(g.ContextTokens)]) &&
		g.Model.Pos() == len(g.ContextTokens)
	if !reuse {
		if err = g.Reset(); err != nil {
			return nil, stats, err
		}
	}

	var logitsVec []float32
	for _, id := range window[len(g.ContextTokens):] {
		if err = ctx.Err(); err != nil {
			stats.StopReason = StopCanceled
			return nil, stats, err
		}
		logitsVec, err = safeForward(g.Model, id)
		if err != nil {
			return nil, stats, err
		}
		g.ContextTokens = append(g.ContextTokens, id)
	}
	if logitsVec == nil {
		if len(g.last) == 0 {
			// Nothing to condition on.
			stats.StopReason = StopMaxTokens
			return nil, stats, nil
		}
		logitsVec = append([]float32(nil), g.last...)
	}

	history := slices.Clone(window)
	stats.StopReason = StopMaxTokens
	for i := range maxTokens {
		if err = ctx.Err(); err != nil {
			stats.StopReason = StopCanceled
			return out, stats, err
		}
		// The sampler may penalize in place; keep logitsVec intact.
		g.work = append(g.work[:0], logitsVec...)
		var next int
		next, err = safeSample(g.Sampler, g.work, history)
		if err != nil {
			return out, stats, err
		}
		if slices.Contains(g.StopTokens, next) {
			stats.StopReason = StopEOS
			break
		}
		if len(history)+1 > g.MaxContext {
			stats.StopReason = StopContextFull
			break
		}
		history = append(history, next)
		out = append(out, next)
		stats.TokensGenerated++

		if i+1 == maxTokens {
			break
		}
		logitsVec, err = safeForward(g.Model, next)
		if err != nil {
			return out, stats, err
		}
		g.ContextTokens = append(g.ContextTokens, next)
	}
	g.last = append(g.last[:0], logitsVec...)
	return out, stats, nil
}

func safeForward(m model.Model, id int) (logitsVec []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Op: "ForwardToken", Value: rec}
		}
	}()
	return m.ForwardToken(id)
}

func safeSample(s *logits.Sampler, logitsVec []float32, recent []int) (id int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Op: "Sample", Value: rec}
		}
	}()
	return s.Sample(logitsVec, recent), nil
}

func safeReset(m model.Model) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Op: "Reset", Value: rec}
		}
	}()
	m.Reset()
	return nil
}
