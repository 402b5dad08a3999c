package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func withTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestResolveRunModelPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveRunModelPath("/models/../tmp/model.gguf", "", nil, io.Discard)
		if err != nil {
			t.Fatal(err)
		}
		if got != filepath.Clean("/tmp/model.gguf") {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("bare name from env dir", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "gemma.gguf")
		t.Setenv(envModelsDir, dir)

		got, err := resolveRunModelPath("gemma", "", nil, io.Discard)
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir, "gemma.gguf"); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		if _, err := resolveRunModelPath("llama", "", nil, io.Discard); err == nil {
			t.Fatal("expected error for a name missing from the models dir")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveRunModelPath("", "", nil, io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveRunModelPath("", t.TempDir(), nil, io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("single model", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "only.gguf", "notes.txt")
		withTTY(t, false)

		var stderr bytes.Buffer
		got, err := resolveRunModelPath("", dir, nil, &stderr)
		if err != nil {
			t.Fatal(err)
		}
		if got != filepath.Join(dir, "only.gguf") || !strings.Contains(stderr.String(), "using model only.gguf") {
			t.Fatalf("got %q, stderr %q", got, stderr.String())
		}
	})

	t.Run("several models without a terminal", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "a.gguf", "b.gguf")
		withTTY(t, false)
		if _, err := resolveRunModelPath("", dir, nil, io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("prompt picks sorted entry", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "b.gguf", "a.GGUF")
		withTTY(t, true)

		var stderr bytes.Buffer
		got, err := resolveRunModelPath("", dir, strings.NewReader("\nzero\n2\n"), &stderr)
		if err != nil {
			t.Fatal(err)
		}
		if want := filepath.Join(dir, "b.gguf"); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		if !strings.Contains(stderr.String(), "[1] a.GGUF") || !strings.Contains(stderr.String(), `"zero" is not a choice`) {
			t.Fatalf("unexpected prompt output %q", stderr.String())
		}
	})

	t.Run("prompt hits eof", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "b.gguf", "a.gguf")
		withTTY(t, true)
		if _, err := resolveRunModelPath("", dir, strings.NewReader("9"), io.Discard); err == nil {
			t.Fatal("expected error")
		}
	})
}
