package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/minijarvis/internal/model"
)

func TestWriteModelList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := model.DefaultTinyOptions()
	opts.Arch = "gemma"
	good := filepath.Join(dir, "a-gemma.gguf")
	if err := model.WriteTiny(good, opts); err != nil {
		t.Fatalf("WriteTiny: %v", err)
	}
	bad := filepath.Join(dir, "b-broken.gguf")
	if err := os.WriteFile(bad, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	writeModelList(&buf, dir, []string{good, bad})
	out := buf.String()
	if !strings.Contains(out, "a-gemma.gguf") || !strings.Contains(out, "(gemma)") {
		t.Fatalf("good model missing: %s", out)
	}
	if !strings.Contains(out, "b-broken.gguf") || !strings.Contains(out, "unreadable") {
		t.Fatalf("broken model not flagged: %s", out)
	}
	if !strings.Contains(out, "2 model(s) found") {
		t.Fatalf("missing count: %s", out)
	}
}
