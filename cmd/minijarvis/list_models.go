package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/api"
	"github.com/samcharles93/minijarvis/internal/gguf"
	"github.com/samcharles93/minijarvis/internal/logger"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List GGUF models in the models directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "path to directory containing .gguf models",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)

			dir := api.ModelResolver{ModelsPath: modelsPath}.Dir()
			if dir == "" {
				return cli.Exit("error: --models-path is required unless "+envModelsDir+" is set", 1)
			}

			models, err := api.DiscoverModels(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}
			writeModelList(os.Stdout, dir, models)
			return nil
		},
	}
}

// writeModelList prints one line per model. Files that do not parse as
// GGUF are listed with the reason instead of an architecture.
func writeModelList(w io.Writer, dir string, models []string) {
	_, _ = fmt.Fprintf(w, "Models in %s:\n\n", dir)
	for _, m := range models {
		name := filepath.Base(m)
		f, err := gguf.Open(m)
		if err != nil {
			size := "?"
			if st, serr := os.Stat(m); serr == nil {
				size = humanBytes(st.Size())
			}
			_, _ = fmt.Fprintf(w, "  %-40s %10s  (unreadable: %v)\n", name, size, err)
			continue
		}
		arch, _ := gguf.GetString(f.KV, "general.architecture")
		if arch == "" {
			arch = "unknown"
		}
		_, _ = fmt.Fprintf(w, "  %-40s %10s  (%s)\n", name, humanBytes(f.Size), arch)
		_ = f.Close()
	}
	_, _ = fmt.Fprintf(w, "\n%d model(s) found\n", len(models))
}
