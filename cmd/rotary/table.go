package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotary/internal/kernel"
	"github.com/samcharles93/rotary/internal/logger"
	"github.com/samcharles93/rotary/internal/rope"
	"github.com/samcharles93/rotary/internal/tablefile"
)

type tableSummary struct {
	Kind      string      `json:"kind"`
	Style     string      `json:"style"`
	Rows      int         `json:"rows"`
	RotaryDim int         `json:"rotary_dim"`
	Base      float64     `json:"base"`
	Alpha     float64     `json:"alpha"`
	Sample    [][]float32 `json:"sample,omitempty"`
}

func tableCmd() *cli.Command {
	var (
		enc     encodingFlags
		trueLen int
		show    int
		asJSON  bool
		out     string
		dtype   string
		codec   string
	)

	flags := enc.flags()
	flags = append(flags,
		&cli.IntFlag{Name: "true-len", Usage: "adaptive-ntk: build the cache a sample of this length would use", Destination: &trueLen},
		&cli.IntFlag{Name: "rows", Usage: "number of leading rows to print", Value: 4, Destination: &show},
		&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON", Destination: &asJSON},
		&cli.StringFlag{Name: "out", Usage: "write the table to a file instead of printing it", Destination: &out},
		&cli.StringFlag{Name: "dtype", Usage: "stored element type (f32, f16, bf16)", Value: "f32", Destination: &dtype},
		&cli.StringFlag{Name: "codec", Usage: "payload compression (none, zstd, lz4)", Value: "none", Destination: &codec},
	)

	return &cli.Command{
		Name:  "table",
		Usage: "Build a frequency cache and print or export it",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := enc.config()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			e, err := rope.New(cfg, kernel.CPU{}, rope.WithLogger(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			snap := e.Snapshot()
			if trueLen > 0 {
				if cfg.Kind != rope.KindAdaptiveNTK {
					return cli.Exit("error: --true-len requires --kind adaptive-ntk", 1)
				}
				snap, _, err = e.Ensure(trueLen)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			if out != "" {
				dt, err := tablefile.ParseDType(dtype)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				c, err := tablefile.ParseCodec(codec)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				h, err := tablefile.WriteFile(out, snap.Table, tablefile.Options{DType: dt, Codec: c, Alpha: snap.Alpha})
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: write %s: %v", out, err), 1)
				}
				log.Info("table written",
					"path", out,
					"rows", h.Rows,
					"dtype", h.DType,
					"codec", h.Codec,
					"raw_bytes", h.RawSize,
					"payload_bytes", h.PayloadSize,
				)
				return nil
			}

			summary := summarize(cfg, snap, show)
			if asJSON {
				je := json.NewEncoder(os.Stdout)
				je.SetIndent("", "  ")
				return je.Encode(summary)
			}
			printSummary(summary)
			return nil
		},
	}
}

func summarize(cfg rope.Config, snap *rope.Snapshot, show int) tableSummary {
	s := tableSummary{
		Kind:      cfg.Kind.String(),
		Style:     cfg.Style.String(),
		Rows:      snap.Table.Len(),
		RotaryDim: snap.Table.Dim(),
		Base:      snap.Table.Base(),
		Alpha:     snap.Alpha,
	}
	show = min(show, snap.Table.Len())
	for p := 0; p < show; p++ {
		row, _ := snap.Table.Row(p)
		s.Sample = append(s.Sample, row)
	}
	return s
}

func printSummary(s tableSummary) {
	fmt.Printf("kind:       %s\n", s.Kind)
	fmt.Printf("style:      %s\n", s.Style)
	fmt.Printf("rows:       %d\n", s.Rows)
	fmt.Printf("rotary dim: %d\n", s.RotaryDim)
	fmt.Printf("base:       %.6g\n", s.Base)
	if s.Alpha != 1 {
		fmt.Printf("alpha:      %g\n", s.Alpha)
	}
	half := s.RotaryDim / 2
	for p, row := range s.Sample {
		fmt.Printf("[%d] cos=%v sin=%v\n", p, row[:half], row[half:])
	}
}
