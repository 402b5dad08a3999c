package session

import (
	"errors"
	"fmt"

	"github.com/samcharles93/minijarvis/internal/logits"
)

// SamplingConfig is fixed for the life of a Session. ContextSize,
// Temperature and MaxTokens are required; the remaining knobs default to
// values that leave the distribution untouched.
type SamplingConfig struct {
	ContextSize   int     `yaml:"context_size" json:"context_size"`
	Temperature   float32 `yaml:"temperature" json:"temperature"`
	MaxTokens     int     `yaml:"max_tokens" json:"max_tokens"`
	Seed          int64   `yaml:"seed" json:"seed"`
	TopK          int     `yaml:"top_k" json:"top_k"`
	TopP          float32 `yaml:"top_p" json:"top_p"`
	MinP          float32 `yaml:"min_p" json:"min_p"`
	RepeatPenalty float32 `yaml:"repeat_penalty" json:"repeat_penalty"`
	RepeatLastN   int     `yaml:"repeat_last_n" json:"repeat_last_n"`
}

// DefaultSamplingConfig matches the values the assistant app ships with.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		ContextSize:   1024,
		Temperature:   0.2,
		MaxTokens:     120,
		Seed:          -1,
		TopP:          1,
		RepeatPenalty: 1,
		RepeatLastN:   64,
	}
}

// Validate reports every out-of-range field. Nothing is clamped.
func (c SamplingConfig) Validate() error {
	var errs []error
	if c.ContextSize < 1 {
		errs = append(errs, fmt.Errorf("context_size must be >= 1, got %d", c.ContextSize))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max_tokens must be >= 1, got %d", c.MaxTokens))
	}
	if c.Seed < -1 {
		errs = append(errs, fmt.Errorf("seed must be >= -1, got %d", c.Seed))
	}
	if err := c.samplerConfig(0).Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c SamplingConfig) samplerConfig(seed int64) logits.SamplerConfig {
	return logits.SamplerConfig{
		Seed:          seed,
		Temperature:   c.Temperature,
		TopK:          c.TopK,
		TopP:          c.TopP,
		MinP:          c.MinP,
		RepeatPenalty: c.RepeatPenalty,
		RepeatLastN:   c.RepeatLastN,
	}
}
