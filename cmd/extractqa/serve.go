package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/extractqa/internal/api"
	"github.com/samcharles93/extractqa/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int64
		dec         decodeOptions
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the question answering API",
		Flags: append(append(engineFlags(), dec.flags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Sources:     env("ADDR"),
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "requests per second allowed per client (0 = unlimited)",
				Destination: &rateLimit,
			},
			&cli.Int64Flag{
				Name:        "rate-burst",
				Usage:       "burst size for --rate-limit",
				Value:       10,
				Destination: &rateBurst,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyServeConfig(cmd, cfg, &addr, &rateLimit, &rateBurst)
			applyDecodeConfig(cmd, cfg, &dec)
			defaults := dec.options()
			if err := defaults.Validate(); err != nil {
				return err
			}

			res, err := loadEngine(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = res.Engine.Close() }()

			service := api.NewInferenceService(res.Engine)
			service.SetDefaults(defaults)
			server := api.NewServer(service, res.ScorerName)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			e.Use(api.RequestID(log))
			if rateLimit > 0 {
				limiter, err := api.NewRateLimiter(rateLimit, int(rateBurst), 0)
				if err != nil {
					return err
				}
				e.Use(limiter.Middleware())
				log.Info("rate limit enabled", "per_second", rateLimit, "burst", rateBurst)
			}
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
