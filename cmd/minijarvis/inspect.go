package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/gguf"
	"github.com/samcharles93/minijarvis/internal/model"
)

type inspectOptions struct {
	showKV      bool
	showTensors bool
	tensorLimit int
	arrayLimit  int
	filter      string
}

func inspectCmd() *cli.Command {
	var (
		opts   inspectOptions
		asJSON bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect the header, metadata and tensors of a GGUF file",
		ArgsUsage: "<file.gguf>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "kv", Usage: "show every metadata key", Value: true, Destination: &opts.showKV},
			&cli.BoolFlag{Name: "tensors", Usage: "show the tensor table", Destination: &opts.showTensors},
			&cli.IntFlag{Name: "tensor-limit", Usage: "max tensors to show (0 = all)", Value: 50, Destination: &opts.tensorLimit},
			&cli.IntFlag{Name: "array-limit", Usage: "max array elements to show per key", Value: 8, Destination: &opts.arrayLimit},
			&cli.StringFlag{Name: "filter", Usage: "only show tensors whose name contains this", Destination: &opts.filter},
			&cli.BoolFlag{Name: "json", Usage: "print a JSON summary", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("inspect: a .gguf path is required", 1)
			}
			f, err := gguf.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("inspect: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			if asJSON {
				return writeInspectJSON(os.Stdout, f)
			}
			return writeInspect(os.Stdout, f, opts)
		},
	}
}

func writeInspect(w io.Writer, f *gguf.File, opts inspectOptions) error {
	_, _ = fmt.Fprintf(w, "file:       %s\n", f.Path)
	_, _ = fmt.Fprintf(w, "size:       %s\n", humanBytes(f.Size))
	_, _ = fmt.Fprintf(w, "version:    %d\n", f.Header.Version)
	_, _ = fmt.Fprintf(w, "tensors:    %d\n", f.Header.TensorCount)
	_, _ = fmt.Fprintf(w, "metadata:   %d keys\n", f.Header.KVCount)
	_, _ = fmt.Fprintf(w, "alignment:  %d\n", f.Alignment)

	if cfg, err := model.ConfigFromGGUF(f); err == nil {
		_, _ = fmt.Fprintf(w, "arch:       %s\n", cfg.Arch)
		_, _ = fmt.Fprintf(w, "layers:     %d  embd %d  ffn %d  heads %d/%d\n", cfg.BlockCount, cfg.EmbeddingLength, cfg.FFNLength, cfg.HeadCount, cfg.HeadCountKV)
		_, _ = fmt.Fprintf(w, "context:    %d\n", cfg.ContextLength)
		_, _ = fmt.Fprintf(w, "file type:  %s\n", model.FileTypeName(cfg.FileType))
	} else {
		_, _ = fmt.Fprintf(w, "arch:       unsupported (%v)\n", err)
	}

	if opts.showKV {
		_, _ = fmt.Fprintln(w, "\nmetadata:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, key := range sortedKeys(f.KV) {
			v := f.KV[key]
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\n", key, v.Type, formatValue(v, opts.arrayLimit))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if opts.showTensors {
		_, _ = fmt.Fprintln(w, "\ntensors:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		shown := 0
		for _, t := range f.Tensors {
			if opts.filter != "" && !strings.Contains(t.Name, opts.filter) {
				continue
			}
			if opts.tensorLimit > 0 && shown == opts.tensorLimit {
				_, _ = fmt.Fprintf(tw, "  ...\t\t\t\n")
				break
			}
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%v\t@%d\n", t.Name, t.Type, t.Dims, t.Offset)
			shown++
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

type inspectReport struct {
	Path     string            `json:"path"`
	Size     int64             `json:"size"`
	Version  uint32            `json:"version"`
	Metadata map[string]any    `json:"metadata"`
	Tensors  []inspectedTensor `json:"tensors"`
}

type inspectedTensor struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Dims   []uint64 `json:"dims"`
	Offset uint64   `json:"offset"`
}

// writeInspectJSON prints scalar metadata in full and arrays as their
// length, since token tables run to hundreds of thousands of entries.
func writeInspectJSON(w io.Writer, f *gguf.File) error {
	rep := inspectReport{
		Path:     f.Path,
		Size:     f.Size,
		Version:  f.Header.Version,
		Metadata: make(map[string]any, len(f.KV)),
		Tensors:  make([]inspectedTensor, 0, len(f.Tensors)),
	}
	for key, v := range f.KV {
		if arr, ok := v.Value.(gguf.ArrayValue); ok {
			rep.Metadata[key] = fmt.Sprintf("[%d x %s]", len(arr.Values), arr.ElemType)
			continue
		}
		rep.Metadata[key] = v.Value
	}
	for _, t := range f.Tensors {
		rep.Tensors = append(rep.Tensors, inspectedTensor{Name: t.Name, Type: t.Type.String(), Dims: t.Dims, Offset: t.Offset})
	}
	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func sortedKeys(kv map[string]gguf.Value) []string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func formatValue(v gguf.Value, limit int) string {
	arr, ok := v.Value.(gguf.ArrayValue)
	if !ok {
		if s, ok := v.Value.(string); ok {
			return fmt.Sprintf("%q", truncateString(s, 80))
		}
		return fmt.Sprint(v.Value)
	}
	n := len(arr.Values)
	show := n
	if limit > 0 {
		show = min(n, limit)
	}
	parts := make([]string, 0, show+1)
	for _, e := range arr.Values[:show] {
		if s, ok := e.(string); ok {
			parts = append(parts, fmt.Sprintf("%q", s))
		} else {
			parts = append(parts, fmt.Sprint(e))
		}
	}
	if show < n {
		parts = append(parts, fmt.Sprintf("... %d more", n-show))
	}
	return fmt.Sprintf("[%d x %s] %s", n, arr.ElemType, strings.Join(parts, ", "))
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
