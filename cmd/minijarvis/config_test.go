package main

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeFlags map[string]bool

func (f fakeFlags) IsSet(name string) bool { return f[name] }

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
model: /models/gemma.gguf
models_dir: /models
context_size: 2048
temperature: 0.7
max_tokens: 64
seed: 42
log_level: debug
server_address: 127.0.0.1:9090
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model != "/models/gemma.gguf" || cfg.ModelsDir != "/models" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ContextSize == nil || *cfg.ContextSize != 2048 || cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("unexpected sampling config %+v", cfg)
	}
	if cfg.TopK != nil {
		t.Fatalf("unset key should stay nil")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit config")
	}
	if err := os.WriteFile(path, []byte("temperature: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyRunConfig(t *testing.T) {
	prevModel, prevModels, prevCtx := modelPath, modelsPath, contextSize
	t.Cleanup(func() { modelPath, modelsPath, contextSize = prevModel, prevModels, prevCtx })

	ctx := int64(2048)
	temp := 0.7
	maxTokens := int64(64)
	seed := int64(42)
	cfg := Config{
		Model:       "/models/gemma.gguf",
		ContextSize: &ctx,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Seed:        &seed,
	}

	modelPath, modelsPath, contextSize = "", "", 1024
	s := samplingFlags{temp: 0.2, maxTokens: 120, seed: -1}
	applyRunConfig(fakeFlags{"temp": true, "ctx": true}, cfg, &s)

	if modelPath != "/models/gemma.gguf" {
		t.Fatalf("model not applied: %q", modelPath)
	}
	if contextSize != 1024 {
		t.Fatalf("explicit --ctx overridden: %d", contextSize)
	}
	if s.temp != 0.2 {
		t.Fatalf("explicit --temp overridden: %v", s.temp)
	}
	if s.maxTokens != 64 || s.seed != 42 {
		t.Fatalf("config defaults not applied: %+v", s)
	}

	sc := s.config(contextSize)
	if sc.ContextSize != 1024 || sc.MaxTokens != 64 || sc.Seed != 42 || sc.Temperature != 0.2 {
		t.Fatalf("unexpected sampling config %+v", sc)
	}
}

func TestApplyServeConfig(t *testing.T) {
	prevModel, prevModels, prevCtx := modelPath, modelsPath, contextSize
	t.Cleanup(func() { modelPath, modelsPath, contextSize = prevModel, prevModels, prevCtx })

	addr := "127.0.0.1:8080"
	applyServeConfig(fakeFlags{}, Config{ServerAddress: "0.0.0.0:9000", ModelsDir: "/models"}, &addr)
	if addr != "0.0.0.0:9000" || modelsPath != "/models" {
		t.Fatalf("serve config not applied: addr=%q models=%q", addr, modelsPath)
	}

	addr = "127.0.0.1:8080"
	applyServeConfig(fakeFlags{"addr": true}, Config{ServerAddress: "0.0.0.0:9000"}, &addr)
	if addr != "127.0.0.1:8080" {
		t.Fatalf("explicit --addr overridden: %q", addr)
	}
}
