package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/minijarvis/internal/session"
)

// Config represents the configuration file (~/.config/minijarvis/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Model     string `yaml:"model"`
	ModelsDir string `yaml:"models_dir"`

	// Sampling defaults
	ContextSize   *int64   `yaml:"context_size"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     *int64   `yaml:"max_tokens"`
	Seed          *int64   `yaml:"seed"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "minijarvis", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// flagSet is the part of *cli.Command the apply functions read.
type flagSet interface {
	IsSet(name string) bool
}

var _ flagSet = (*cli.Command)(nil)

func applyLogConfig(c flagSet, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.LogFile != "" && !c.IsSet("log-file") {
		logFile = cfg.LogFile
	}
}

func applyModelConfig(c flagSet, cfg Config) {
	if cfg.Model != "" && !c.IsSet("model") {
		modelPath = cfg.Model
	}
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.ContextSize != nil && !c.IsSet("ctx") {
		contextSize = *cfg.ContextSize
	}
}

// applyRunConfig applies config file defaults to the sampling settings
// when the corresponding CLI flag was not explicitly set.
func applyRunConfig(c flagSet, cfg Config, s *samplingFlags) {
	applyModelConfig(c, cfg)
	if cfg.Temperature != nil && !c.IsSet("temp") {
		s.temp = *cfg.Temperature
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		s.maxTokens = *cfg.MaxTokens
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		s.seed = *cfg.Seed
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		s.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		s.topP = *cfg.TopP
	}
	if cfg.MinP != nil && !c.IsSet("min-p") {
		s.minP = *cfg.MinP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		s.repeatPenalty = *cfg.RepeatPenalty
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c flagSet, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// samplingFlags backs the sampling flags shared by run, plan and serve.
type samplingFlags struct {
	temp          float64
	maxTokens     int64
	seed          int64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
}

func (s *samplingFlags) flags() []cli.Flag {
	d := session.DefaultSamplingConfig()
	return []cli.Flag{
		&cli.Float64Flag{Name: "temp", Aliases: []string{"temperature", "t"}, Usage: "sampling temperature (0 = greedy)", Value: float64(d.Temperature), Destination: &s.temp},
		&cli.Int64Flag{Name: "max-tokens", Aliases: []string{"n"}, Usage: "maximum tokens to generate per prompt", Value: int64(d.MaxTokens), Destination: &s.maxTokens},
		&cli.Int64Flag{Name: "seed", Usage: "sampling seed (-1 = time based)", Value: d.Seed, Destination: &s.seed},
		&cli.Int64Flag{Name: "top-k", Usage: "top-k sampling (0 = off)", Value: int64(d.TopK), Destination: &s.topK},
		&cli.Float64Flag{Name: "top-p", Usage: "nucleus sampling threshold", Value: float64(d.TopP), Destination: &s.topP},
		&cli.Float64Flag{Name: "min-p", Usage: "min-p sampling threshold (0 = off)", Value: float64(d.MinP), Destination: &s.minP},
		&cli.Float64Flag{Name: "repeat-penalty", Usage: "repetition penalty (1 = off)", Value: float64(d.RepeatPenalty), Destination: &s.repeatPenalty},
		&cli.Int64Flag{Name: "repeat-last-n", Usage: "tokens considered for the repetition penalty", Value: int64(d.RepeatLastN), Destination: &s.repeatLastN},
	}
}

func (s *samplingFlags) config(contextSize int64) session.SamplingConfig {
	return session.SamplingConfig{
		ContextSize:   int(contextSize),
		Temperature:   float32(s.temp),
		MaxTokens:     int(s.maxTokens),
		Seed:          s.seed,
		TopK:          int(s.topK),
		TopP:          float32(s.topP),
		MinP:          float32(s.minP),
		RepeatPenalty: float32(s.repeatPenalty),
		RepeatLastN:   int(s.repeatLastN),
	}
}
