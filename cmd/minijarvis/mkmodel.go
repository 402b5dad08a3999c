package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/model"
)

func mkmodelCmd() *cli.Command {
	var (
		out   string
		opts  = model.DefaultTinyOptions()
		favor int64
	)

	return &cli.Command{
		Name:  "mkmodel",
		Usage: "Write a tiny random llama or gemma GGUF for testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file", Value: "tiny.gguf", Destination: &out},
			&cli.StringFlag{Name: "arch", Usage: "llama or gemma", Value: opts.Arch, Destination: &opts.Arch},
			&cli.IntFlag{Name: "layers", Value: opts.Layers, Destination: &opts.Layers},
			&cli.IntFlag{Name: "embd", Value: opts.Embd, Destination: &opts.Embd},
			&cli.IntFlag{Name: "heads", Value: opts.Heads, Destination: &opts.Heads},
			&cli.IntFlag{Name: "kv-heads", Value: opts.KVHeads, Destination: &opts.KVHeads},
			&cli.IntFlag{Name: "ffn", Value: opts.FFN, Destination: &opts.FFN},
			&cli.IntFlag{Name: "context-length", Value: opts.ContextLength, Destination: &opts.ContextLength},
			&cli.BoolFlag{Name: "q8", Usage: "store matrices as Q8_0", Destination: &opts.Quantize},
			&cli.Int64Flag{Name: "favor", Usage: "token id greedy decoding always picks (-1 = none)", Value: -1, Destination: &favor},
			&cli.Int64Flag{Name: "seed", Usage: "weight seed", Value: opts.Seed, Destination: &opts.Seed},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts.Favor = int(favor)
			if err := model.WriteTiny(out, opts); err != nil {
				return cli.Exit(fmt.Sprintf("mkmodel: %v", err), 1)
			}
			logger.FromContext(ctx).Info("wrote model", "path", out, "arch", opts.Arch, "layers", opts.Layers)
			return nil
		},
	}
}
