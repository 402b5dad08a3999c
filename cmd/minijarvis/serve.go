package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/minijarvis/internal/api"
	"github.com/samcharles93/minijarvis/internal/bridge"
	"github.com/samcharles93/minijarvis/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		generationTTL time.Duration
		sampling      samplingFlags
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve sessions and the action planner over HTTP",
		Flags: append(append(commonModelFlags(), sampling.flags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.DurationFlag{
				Name:        "generation-ttl",
				Usage:       "how long generation results stay retrievable",
				Value:       api.DefaultGenerationTTL,
				Destination: &generationTTL,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, fileConfig, &addr)
			applyRunConfig(cmd, fileConfig, &sampling)
			log := logger.FromContext(ctx)

			b := bridge.New(log)
			b.Defaults = sampling.config(contextSize)
			defer func() {
				if err := b.Shutdown(); err != nil {
					log.Error("shutdown failed", "err", err)
				}
			}()
			store := api.NewGenerationStore(generationTTL)
			defer store.Close()

			server := api.NewServer(b, store, api.ModelResolver{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
			}, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
