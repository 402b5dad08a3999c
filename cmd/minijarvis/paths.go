package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/samcharles93/minijarvis/internal/api"
)

const (
	envModel     = "MINIJARVIS_MODEL"
	envModelsDir = api.EnvModelsDir
	envConfig    = "MINIJARVIS_CONFIG"

	envMaxBufferMB = "MINIJARVIS_MAX_BUFFER_MB"
)

var (
	stdinIsTTY  = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	stderrIsTTY = func() bool { return term.IsTerminal(int(os.Stderr.Fd())) }
)

// resolveRunModelPath turns --model and --models-path into a file. Named
// models resolve like the HTTP API does. With no --model the models
// directory must hold exactly one model, unless stdin is a terminal and
// the user can pick one.
func resolveRunModelPath(modelFlag, modelsDir string, stdin io.Reader, stderr io.Writer) (string, error) {
	r := api.ModelResolver{ModelsPath: modelsDir}
	if strings.TrimSpace(modelFlag) != "" {
		return r.Resolve(modelFlag)
	}

	dir := r.Dir()
	if dir == "" {
		return "", fmt.Errorf("set --model, --models-path or %s", envModelsDir)
	}
	models, err := api.DiscoverModels(dir)
	if err != nil {
		return "", err
	}
	switch {
	case len(models) == 0:
		return "", fmt.Errorf("no .gguf models in %s", dir)
	case len(models) == 1:
		_, _ = fmt.Fprintf(stderr, "using model %s\n", filepath.Base(models[0]))
		return models[0], nil
	case !stdinIsTTY():
		return "", fmt.Errorf("%d models in %s and stdin is not a terminal; set --model", len(models), dir)
	}
	return promptForModel(models, stdin, stderr)
}

// promptForModel asks until it reads a valid 1-based index or hits EOF.
func promptForModel(models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "  [%d] %s\n", i+1, filepath.Base(m))
	}
	sc := bufio.NewScanner(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "model (1-%d): ", len(models))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no model selected")
		}
		answer := strings.TrimSpace(sc.Text())
		if answer == "" {
			continue
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(models) {
			return models[n-1], nil
		}
		_, _ = fmt.Fprintf(stderr, "%q is not a choice\n", answer)
	}
}
