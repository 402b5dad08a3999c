package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/logger"
	"github.com/samcharles93/minijarvis/internal/model"
)

var (
	modelPath   string
	modelsPath  string
	contextSize int64
	configFile  string
	logLevel    string
	logFormat   string
	logFile     string
	debug       bool

	// loaded in setup
	fileConfig Config
	logCloser  io.Closer
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .gguf file",
			Sources:     cli.EnvVars(envModel),
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to directory containing .gguf models",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "ctx",
			Aliases:     []string{"context-size", "c"},
			Usage:       "context window in tokens",
			Value:       1024,
			Destination: &contextSize,
		},
		&cli.Int64Flag{
			Name:    "max-buffer-mb",
			Usage:   "cap on KV cache and scratch memory per model, in MiB",
			Sources: cli.EnvVars(envMaxBufferMB),
			Action: func(_ context.Context, _ *cli.Command, mb int64) error {
				if mb <= 0 {
					return fmt.Errorf("--max-buffer-mb must be positive, got %d", mb)
				}
				model.SetMaxBufferBytes(mb << 20)
				return nil
			},
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "also write JSON logs to this file, rotated by size",
			Destination: &logFile,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setup loads .env and the config file, then installs the logger in ctx.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ctx, err
	}
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	applyLogConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	handlers := []slog.Handler{consoleHandler(logFormat, level)}
	if logFile != "" {
		w := logger.FileWriter(logFile, logger.FileOptions{})
		logCloser = w
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return logger.WithContext(ctx, logger.Tee(handlers...)), nil
}

func teardown(context.Context, *cli.Command) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

func consoleHandler(format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		return slog.NewTextHandler(os.Stderr, opts)
	default:
		return logger.NewPrettyHandlerWithOptions(os.Stderr, logger.PrettyOptions{
			HandlerOptions: *opts,
			NoColor:        !stderrIsTTY() || os.Getenv("NO_COLOR") != "",
		})
	}
}
