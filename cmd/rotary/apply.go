package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotary/internal/batch"
	"github.com/samcharles93/rotary/internal/kernel"
	"github.com/samcharles93/rotary/internal/logger"
	"github.com/samcharles93/rotary/internal/rope"
)

func applyCmd() *cli.Command {
	var (
		enc         encodingFlags
		promptLens  string
		contextLens string
		padding     int
		qHeads      int
		kvHeads     int
		seed        uint64
	)

	flags := enc.flags()
	flags = append(flags,
		&cli.StringFlag{Name: "prompt-lens", Usage: "prefill batch: comma separated prompt lengths", Destination: &promptLens},
		&cli.StringFlag{Name: "context-lens", Usage: "decode batch: comma separated context lengths", Destination: &contextLens},
		&cli.IntFlag{Name: "padding", Usage: "trailing padding rows", Destination: &padding},
		&cli.IntFlag{Name: "q-heads", Usage: "query heads per row", Value: 4, Destination: &qHeads},
		&cli.IntFlag{Name: "kv-heads", Usage: "key heads per row", Value: 1, Destination: &kvHeads},
		&cli.Uint64Flag{Name: "seed", Usage: "seed for the synthetic activations", Value: 1, Destination: &seed},
	)

	return &cli.Command{
		Name:  "apply",
		Usage: "Rotate a synthetic ragged batch and report how each sample was encoded",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := enc.config()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			md, err := batchMetadata(promptLens, contextLens)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if padding < 0 || qHeads <= 0 || kvHeads <= 0 {
				return cli.Exit("error: --padding must be non-negative and head counts positive", 1)
			}
			e, err := rope.New(cfg, kernel.CPU{}, rope.WithLogger(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			desc, err := batch.FromMetadata(md)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			positions := syntheticPositions(desc, padding)
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			query := randomRows(rng, len(positions)*qHeads*cfg.HeadSize)
			key := randomRows(rng, len(positions)*kvHeads*cfg.HeadSize)
			before := rowNorms(query, qHeads*cfg.HeadSize)

			start := time.Now()
			query, _, err = e.Apply(positions, query, key, md)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			elapsed := time.Since(start)

			spans, err := desc.Spans(len(positions))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"SAMPLE", "ROWS", "TRUE LEN", "ALPHA"})
			table.SetAlignment(tablewriter.ALIGN_RIGHT)
			table.SetBorder(false)
			for _, sp := range spans {
				alpha := 1.0
				if cfg.Kind == rope.KindAdaptiveNTK {
					alpha = rope.NTKAlpha(sp.TrueLen, cfg.ReferenceLength)
				}
				table.Append([]string{
					strconv.Itoa(sp.Sample),
					strconv.Itoa(sp.Len()),
					strconv.Itoa(sp.TrueLen),
					strconv.FormatFloat(alpha, 'g', -1, 64),
				})
			}
			table.Render()

			snap := e.Snapshot()
			drift := maxDrift(before, rowNorms(query, qHeads*cfg.HeadSize))
			fmt.Printf("\nphase:        %s\n", desc.Phase)
			fmt.Printf("tokens:       %d (%d padding)\n", len(positions), padding)
			fmt.Printf("cache rows:   %d\n", snap.Table.Len())
			fmt.Printf("cache alpha:  %g\n", snap.Alpha)
			fmt.Printf("rebuilds:     %d\n", e.Rebuilds())
			fmt.Printf("norm drift:   %.3g\n", drift)
			fmt.Printf("elapsed:      %s\n", elapsed)
			return nil
		},
	}
}

func batchMetadata(promptLens, contextLens string) (batch.Metadata, error) {
	prompt, err := parseInts(promptLens)
	if err != nil {
		return batch.Metadata{}, err
	}
	ctxLens, err := parseInts(contextLens)
	if err != nil {
		return batch.Metadata{}, err
	}
	switch {
	case prompt != nil && ctxLens != nil:
		return batch.Metadata{}, fmt.Errorf("set only one of --prompt-lens and --context-lens")
	case prompt != nil:
		return batch.Prefill(prompt...), nil
	case ctxLens != nil:
		return batch.Decode(ctxLens...), nil
	}
	return batch.Metadata{}, fmt.Errorf("one of --prompt-lens or --context-lens is required")
}

// syntheticPositions lays out a packed batch: prompts count up from zero,
// decode samples sit at their last context position, padding rows use 0.
func syntheticPositions(d batch.Descriptor, padding int) []int {
	var positions []int
	for _, n := range d.Lens {
		switch d.Phase {
		case batch.PhasePrefill:
			for p := range n {
				positions = append(positions, p)
			}
		case batch.PhaseDecode:
			positions = append(positions, n-1)
		}
	}
	for range padding {
		positions = append(positions, 0)
	}
	return positions
}

func randomRows(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	return out
}

func rowNorms(x []float32, width int) []float64 {
	norms := make([]float64, len(x)/width)
	for r := range norms {
		var sum float64
		for _, v := range x[r*width : (r+1)*width] {
			sum += float64(v) * float64(v)
		}
		norms[r] = math.Sqrt(sum)
	}
	return norms
}

func maxDrift(a, b []float64) float64 {
	var worst float64
	for i := range a {
		worst = max(worst, math.Abs(a[i]-b[i]))
	}
	return worst
}
