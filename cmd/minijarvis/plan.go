package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/action"
	"github.com/samcharles93/minijarvis/internal/bridge"
	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/session"
)

func planCmd() *cli.Command {
	var (
		instruction string
		uiPath      string
		rules       bool
		grounded    bool
		sampling    samplingFlags
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Choose the next UI action for an instruction and a screen snapshot",
		Flags: append(append(commonModelFlags(), sampling.flags()...),
			&cli.StringFlag{
				Name:        "instruction",
				Aliases:     []string{"i"},
				Usage:       "what the user asked for",
				Required:    true,
				Destination: &instruction,
			},
			&cli.StringFlag{
				Name:        "ui",
				Usage:       "UI structure JSON file, - for stdin",
				Destination: &uiPath,
			},
			&cli.BoolFlag{
				Name:        "rules",
				Usage:       "use the keyword planner instead of a model",
				Destination: &rules,
			},
			&cli.BoolFlag{
				Name:        "grounded",
				Usage:       "reject targets that are not on screen",
				Destination: &grounded,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRunConfig(cmd, fileConfig, &sampling)
			log := logger.FromContext(ctx)

			ui, err := readUI(uiPath, os.Stdin)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if rules {
				return printAction(os.Stdout, action.RulePlanner{}.Plan(instruction, ui))
			}

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

			a := action.None()
			err = b.Do(h, func(s *session.Session) error {
				var perr error
				a, _, perr = action.Planner{Grounded: grounded}.Plan(logger.WithContext(ctx, log), s, instruction, ui)
				if perr != nil {
					log.Warn("planner fell back to nothing", "err", perr)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printAction(os.Stdout, a)
		},
	}
}

func readUI(path string, stdin io.Reader) (action.UIStructure, error) {
	var ui action.UIStructure
	var data []byte
	var err error
	switch strings.TrimSpace(path) {
	case "":
		return ui, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return ui, err
	}
	if err := json.Unmarshal(data, &ui); err != nil {
		return ui, fmt.Errorf("parse ui structure: %w", err)
	}
	return ui, nil
}

func printAction(w io.Writer, a action.Action) error {
	out, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
