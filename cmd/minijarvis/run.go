package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/bridge"
	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/session"
)

func runCmd() *cli.Command {
	var (
		prompt    string
		showStats bool
		sampling  samplingFlags
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Load a model and generate text for a prompt, or chat on stdin",
		Flags: append(append(commonModelFlags(), sampling.flags()...),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text; reads lines from stdin when empty",
				Destination: &prompt,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print token counts and speed after each generation",
				Destination: &showStats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRunConfig(cmd, fileConfig, &sampling)
			log := logger.FromContext(ctx)

			path, err := resolveRunModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			b := bridge.New(log)
			h, err := b.Open(ctx, path, sampling.config(contextSize))
			if err != nil {
				return cli.Exit(fmt.Sprintf("load %s: %v (%s)", path, err, bridge.StatusOf(err)), 1)
			}
			defer b.Cleanup(h)

			r := &runner{bridge: b, handle: h, out: os.Stdout, stats: showStats}
			if prompt != "" {
				return r.generate(ctx, prompt)
			}
			return r.chat(ctx, os.Stdin)
		},
	}
}

type runner struct {
	bridge *bridge.Bridge
	handle int64
	out    io.Writer
	stats  bool
}

func (r *runner) generate(ctx context.Context, prompt string) error {
	var st string
	err := r.bridge.Do(r.handle, func(s *session.Session) error {
		text, err := s.GenerateText(ctx, prompt)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(r.out, text)
		if r.stats {
			stats := s.Stats()
			st = fmt.Sprintf("prompt=%d generated=%d tps=%.1f stop=%s", stats.PromptTokens, stats.TokensGenerated, stats.TPS, stats.StopReason)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("generate: %w (%s)", err, bridge.StatusOf(err))
	}
	if st != "" {
		_, _ = fmt.Fprintln(os.Stderr, st)
	}
	return nil
}

// chat reads one prompt per line. "/reset" clears the conversation and
// "/exit" or EOF ends it.
func (r *runner) chat(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	interactive := stdinIsTTY()
	for {
		if interactive {
			_, _ = fmt.Fprint(os.Stderr, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := r.bridge.Reset(r.handle); err != nil {
				return err
			}
			continue
		}
		if err := r.generate(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if !errors.Is(err, session.ErrSessionCorrupt) {
				return err
			}
			_, _ = fmt.Fprintln(os.Stderr, err)
			if err := r.bridge.Reset(r.handle); err != nil {
				return err
			}
		}
	}
}
