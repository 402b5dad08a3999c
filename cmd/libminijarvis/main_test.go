//go:build cgo

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/minijarvis/internal/bridge"
	"github.com/samcharles93/minijarvis/internal/logger"
)

func TestLibraryLoggerWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lib.log")
	log := libraryLogger(path, "warn")
	log.Info("dropped")
	log.Error("init failed", "op", "init", "kind", "not_found")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"op":"init"`) || !strings.Contains(out, `"kind":"not_found"`) {
		t.Fatalf("unexpected log file: %s", out)
	}
}

func TestGenerateStatusWithoutPrompt(t *testing.T) {
	t.Parallel()

	b := bridge.New(logger.Discard())
	t.Cleanup(func() { _ = b.Shutdown() })

	text, st := generateStatus(b, 1, nil)
	if text != "" || st != bridge.StatusInvalidConfig {
		t.Fatalf("nil prompt: %q %v", text, st)
	}
	prompt := "hi"
	text, st = generateStatus(b, 42, &prompt)
	if text != "" || st != bridge.StatusHandleNotFound {
		t.Fatalf("unknown handle: %q %v", text, st)
	}
}
