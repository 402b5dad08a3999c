package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/gguf"
	"github.com/samcharles93/minijarvis/internal/logger"
)

const (
	defaultModelURL  = "https://huggingface.co/leliuga/ggml-gemma-2b-v1-q4_0/resolve/main/gemma-2b-v1-q4_0.gguf"
	defaultModelFile = "gemma-2b-q4_0.gguf"
	// A complete gemma-2b q4_0 file is about 1.6 GB; anything smaller is a
	// partial download.
	defaultMinModelSize = 1_500_000_000
)

var errTooSmall = errors.New("model file is smaller than the minimum size")

func pullCmd() *cli.Command {
	var (
		url     string
		out     string
		minSize int64
		force   bool
	)

	return &cli.Command{
		Name:  "pull",
		Usage: "Download a GGUF model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "model URL", Value: defaultModelURL, Destination: &url},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default: <models dir>/" + defaultModelFile + ")", Destination: &out},
			&cli.StringFlag{Name: "models-path", Aliases: []string{"path"}, Usage: "directory to download into", Destination: &modelsPath},
			&cli.Int64Flag{Name: "min-size", Usage: "reject downloads smaller than this many bytes", Value: defaultMinModelSize, Destination: &minSize},
			&cli.BoolFlag{Name: "force", Usage: "download even if a valid file exists", Destination: &force},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			if out == "" {
				dir := modelsPath
				if dir == "" {
					dir = os.Getenv(envModelsDir)
				}
				if dir == "" {
					dir = "."
				}
				out = filepath.Join(dir, defaultModelFile)
			}

			if !force {
				if err := checkModelFile(out, minSize); err == nil {
					log.Info("model already present", "path", out)
					return nil
				}
			}
			p := puller{client: &http.Client{Timeout: 0}, progress: os.Stderr}
			n, err := p.pull(ctx, url, out, minSize)
			if err != nil {
				return cli.Exit(fmt.Sprintf("pull: %v", err), 1)
			}
			log.Info("model downloaded", "path", out, "bytes", n)
			return nil
		},
	}
}

type puller struct {
	client   *http.Client
	progress io.Writer
}

// pull downloads url to out through a temporary file that is renamed into
// place only after the size and GGUF header check out.
func (p puller) pull(ctx context.Context, url, out string, minSize int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if resp.ContentLength >= 0 && resp.ContentLength < minSize {
		return 0, fmt.Errorf("%w: server reports %d bytes, need %d", errTooSmall, resp.ContentLength, minSize)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, err
	}
	tmp := out + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp) }()

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetWriter(p.progress),
		progressbar.OptionSetDescription("Downloading "+filepath.Base(out)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(p.progress) }),
	)
	n, err := io.Copy(io.MultiWriter(f, bar), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	_ = bar.Finish()
	if err != nil {
		return n, err
	}
	if err := checkModelFile(tmp, minSize); err != nil {
		return n, err
	}
	return n, os.Rename(tmp, out)
}

// checkModelFile accepts a file that is at least minSize bytes and parses as
// GGUF.
func checkModelFile(path string, minSize int64) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.Size() < minSize {
		return fmt.Errorf("%w: %s is %d bytes, need %d", errTooSmall, path, st.Size(), minSize)
	}
	f, err := gguf.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
