package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotary/internal/hfconfig"
	"github.com/samcharles93/rotary/internal/logger"
	"github.com/samcharles93/rotary/internal/rope"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: $XDG_CONFIG_HOME/rotary/config.yaml)",
			Destination: &configFile,
		},
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
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging installs the configured logger into the command context.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if debug {
		logLevel = "debug"
	}
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	log, err := logger.ForFormat(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ctx = withConfig(ctx, cfg)
	return logger.WithContext(ctx, log), nil
}

// encodingFlags describe a single layer on the command line.
type encodingFlags struct {
	hfConfig        string
	headSize        int
	rotaryDim       int
	maxPositions    int
	base            float64
	style           string
	kind            string
	scalingFactor   float64
	referenceLength int
}

func (f *encodingFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "hf-config",
			Usage:       "derive settings from a HuggingFace config.json (other encoding flags are ignored)",
			Destination: &f.hfConfig,
		},
		&cli.IntFlag{Name: "head-size", Usage: "attention head size", Value: 128, Destination: &f.headSize},
		&cli.IntFlag{Name: "rotary-dim", Usage: "rotated dimensions per head (default: head size)", Destination: &f.rotaryDim},
		&cli.IntFlag{Name: "max-positions", Aliases: []string{"max-position-embeddings"}, Usage: "max_position_embeddings", Value: 4096, Destination: &f.maxPositions},
		&cli.Float64Flag{Name: "base", Usage: "rope base (theta)", Value: 10_000, Destination: &f.base},
		&cli.StringFlag{Name: "style", Usage: "pairing style (split-half, interleaved)", Value: "split-half", Destination: &f.style},
		&cli.StringFlag{Name: "kind", Usage: "cache strategy (base, linear, dynamic-ntk, adaptive-ntk)", Value: "base", Destination: &f.kind},
		&cli.Float64Flag{Name: "scaling-factor", Usage: "scaling factor for linear and dynamic-ntk", Value: 1, Destination: &f.scalingFactor},
		&cli.IntFlag{Name: "reference-length", Usage: "adaptive-ntk reference sequence length", Value: 8192, Destination: &f.referenceLength},
	}
}

func (f *encodingFlags) config() (rope.Config, error) {
	if f.hfConfig != "" {
		hf, err := hfconfig.Load(f.hfConfig)
		if err != nil {
			return rope.Config{}, err
		}
		return hf.Rope()
	}
	style, err := rope.ParseStyle(f.style)
	if err != nil {
		return rope.Config{}, err
	}
	kind, err := rope.ParseKind(f.kind)
	if err != nil {
		return rope.Config{}, err
	}
	rotaryDim := f.rotaryDim
	if rotaryDim == 0 {
		rotaryDim = f.headSize
	}
	cfg := rope.Config{
		HeadSize:        f.headSize,
		RotaryDim:       rotaryDim,
		MaxPositions:    f.maxPositions,
		Base:            f.base,
		Style:           style,
		Kind:            kind,
		ScalingFactor:   f.scalingFactor,
		ReferenceLength: f.referenceLength,
	}
	return cfg, cfg.Validate()
}

// parseInts reads a comma separated list such as "4,7,5".
func parseInts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
