package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotary/internal/kernel"
	"github.com/samcharles93/rotary/internal/logger"
	"github.com/samcharles93/rotary/internal/rope"
	"github.com/samcharles93/rotary/internal/server"
	"github.com/samcharles93/rotary/internal/tablefile"
)

const defaultLayer = "default"

func serveCmd() *cli.Command {
	var (
		enc         encodingFlags
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the layer encoders over HTTP",
		Flags: append(enc.flags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8090",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFrom(ctx)
			if cfg.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = cfg.ServerAddress
			}

			layers := cfg.Layers
			if len(layers) == 0 {
				layers = []LayerConfig{{Name: defaultLayer}}
			}
			encoders := make(map[string]*rope.Encoder, len(layers))
			for _, l := range layers {
				var (
					rc  rope.Config
					err error
				)
				if len(cfg.Layers) == 0 {
					rc, err = enc.config()
				} else {
					rc, err = l.Rope()
				}
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				e, err := buildLayer(l, rc, log)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: layer %q: %v", l.Name, err), 1)
				}
				encoders[l.Name] = e
			}

			srv := server.New(log, encoders)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			srv.Register(e)
			log.Info("starting server", "address", addr, "layers", len(encoders))
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(s *http.Server) error {
					s.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

func buildLayer(l LayerConfig, cfg rope.Config, log logger.Logger) (*rope.Encoder, error) {
	opts := []rope.Option{rope.WithLogger(log.With("layer", l.Name))}
	if l.TableFile != "" {
		tf, err := tablefile.Open(l.TableFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rope.WithTable(tf.Table))
	}
	return rope.New(cfg, kernel.CPU{}, opts...)
}
