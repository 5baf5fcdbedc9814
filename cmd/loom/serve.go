package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/loomworks/loom/internal/api"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		rps           float64
		burst         int64
		maxConcurrent int64
		cacheSessions int64
		cacheBytes    int64
		maxNewTokens  int64
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Float64Flag{
			Name:        "rate",
			Usage:       "request rate limit per second (0 = unlimited)",
			Destination: &rps,
		},
		&cli.Int64Flag{
			Name:        "rate-burst",
			Usage:       "rate limit burst size",
			Value:       10,
			Destination: &burst,
		},
		&cli.Int64Flag{
			Name:        "max-concurrent",
			Usage:       "max generations running at once (0 = unlimited)",
			Value:       2,
			Destination: &maxConcurrent,
		},
		&cli.Int64Flag{
			Name:        "cache-sessions",
			Usage:       "max cached sessions before LRU eviction (0 = unlimited)",
			Value:       32,
			Destination: &cacheSessions,
		},
		&cli.Int64Flag{
			Name:        "cache-bytes",
			Usage:       "max bytes of cache memory before LRU eviction (0 = unlimited)",
			Destination: &cacheBytes,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Usage:       "default max_tokens for requests that set none",
			Value:       int64(api.DefaultMaxNewTokens),
			Destination: &maxNewTokens,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyServeConfig(cmd, cfg, &addr)
			log := buildLogger()

			eng, modelID, err := buildEngine(log, engineSetup{
				MaxConcurrent: maxConcurrent,
				CacheSessions: int(cacheSessions),
				CacheBytes:    cacheBytes,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			server, err := api.NewServer(eng, api.Options{
				ModelID:      modelID,
				MaxNewTokens: int(maxNewTokens),
				Logger:       log,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer server.Close()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			if rps > 0 {
				e.Use(api.RateLimit(rps, int(burst)))
			}
			server.Register(e)

			log.Info("starting server", "address", addr, "model", modelID)
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
