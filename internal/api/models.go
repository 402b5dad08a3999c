package api

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const EnvModelsDir = "MINIJARVIS_MODELS_DIR"

const modelExt = ".gguf"

// ModelResolver maps the model field of a request to a file. A value that
// looks like a path is used as is; a bare name is looked up in the models
// directory.
type ModelResolver struct {
	DefaultModelPath string
	ModelsPath       string
}

func (r ModelResolver) Resolve(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if looksLikePath(modelID) {
			return filepath.Clean(modelID), nil
		}
		modelsDir := r.Dir()
		if modelsDir == "" {
			return "", badRequestf("models-path is required to resolve model %q", modelID)
		}
		if resolved := resolveInDir(modelsDir, modelID); resolved != "" {
			return resolved, nil
		}
		return "", badRequestf("model %q not found in %s", modelID, modelsDir)
	}

	if r.DefaultModelPath != "" {
		return filepath.Clean(r.DefaultModelPath), nil
	}
	modelsDir := r.Dir()
	if modelsDir == "" {
		return "", badRequestf("model is required")
	}
	models, err := DiscoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", badRequestf("no %s models found in %s", modelExt, modelsDir)
	default:
		return "", badRequestf("multiple models found in %s; specify model", modelsDir)
	}
}

// List returns the models a request may name, the default model first.
func (r ModelResolver) List() ([]Model, error) {
	var out []Model
	if r.DefaultModelPath != "" {
		out = append(out, modelEntry(filepath.Clean(r.DefaultModelPath)))
	}
	if dir := r.Dir(); dir != "" {
		paths, err := DiscoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if !slices.ContainsFunc(out, func(m Model) bool { return m.Path == p }) {
				out = append(out, modelEntry(p))
			}
		}
	}
	return out, nil
}

func modelEntry(path string) Model {
	name := filepath.Base(path)
	return Model{
		ID:     strings.TrimSuffix(name, filepath.Ext(name)),
		Object: "model",
		Path:   path,
	}
}

// Dir is the models directory, falling back to $MINIJARVIS_MODELS_DIR.
func (r ModelResolver) Dir() string {
	if dir := strings.TrimSpace(r.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(EnvModelsDir))
}

func looksLikePath(v string) bool {
	if strings.Contains(v, string(filepath.Separator)) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(v), modelExt)
}

func resolveInDir(dir, name string) string {
	if dir == "" {
		return ""
	}
	cand := filepath.Join(dir, name)
	if fileExists(cand) {
		return cand
	}
	if !strings.HasSuffix(strings.ToLower(name), modelExt) {
		cand = filepath.Join(dir, name+modelExt)
		if fileExists(cand) {
			return cand
		}
	}
	return ""
}

// DiscoverModels lists the .gguf files directly inside dir, sorted.
func DiscoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), modelExt) {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	slices.Sort(models)
	return models, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
