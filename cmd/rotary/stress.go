package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/rotary/internal/batch"
	"github.com/samcharles93/rotary/internal/kernel"
	"github.com/samcharles93/rotary/internal/logger"
	"github.com/samcharles93/rotary/internal/rope"
)

func stressCmd() *cli.Command {
	var (
		enc        encodingFlags
		workers    int
		iterations int
		maxLen     int
		batchSize  int
	)

	flags := enc.flags()
	flags = append(flags,
		&cli.IntFlag{Name: "workers", Usage: "concurrent callers", Value: 8, Destination: &workers},
		&cli.IntFlag{Name: "iterations", Usage: "batches per worker", Value: 200, Destination: &iterations},
		&cli.IntFlag{Name: "max-len", Usage: "largest context length drawn", Value: 32768, Destination: &maxLen},
		&cli.IntFlag{Name: "batch-size", Usage: "samples per decode batch", Value: 4, Destination: &batchSize},
	)

	return &cli.Command{
		Name:  "stress",
		Usage: "Drive one shared encoder from many goroutines with random decode batches",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := enc.config()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if workers <= 0 || iterations <= 0 || maxLen <= 0 || batchSize <= 0 {
				return cli.Exit("error: --workers, --iterations, --max-len and --batch-size must be positive", 1)
			}
			if cfg.Kind != rope.KindAdaptiveNTK {
				maxLen = min(maxLen, cfg.EffectiveLength())
			}
			e, err := rope.New(cfg, kernel.CPU{}, rope.WithLogger(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var rows atomic.Int64
			start := time.Now()
			g, gctx := errgroup.WithContext(ctx)
			for w := range workers {
				g.Go(func() error {
					rng := rand.New(rand.NewPCG(uint64(w), uint64(w)+1))
					positions := make([]int, batchSize)
					query := make([]float32, batchSize*cfg.HeadSize)
					key := make([]float32, batchSize*cfg.HeadSize)
					lens := make([]int, batchSize)
					for range iterations {
						if err := gctx.Err(); err != nil {
							return err
						}
						for i := range lens {
							lens[i] = 1 + rng.IntN(maxLen)
							positions[i] = lens[i] - 1
						}
						for i := range query {
							query[i], key[i] = 1, 1
						}
						if _, _, err := e.Apply(positions, query, key, batch.Decode(lens...)); err != nil {
							return fmt.Errorf("worker %d: %w", w, err)
						}
						rows.Add(int64(batchSize))
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			elapsed := time.Since(start)

			snap := e.Snapshot()
			log.Info("stress complete",
				"workers", workers,
				"rows", rows.Load(),
				"rebuilds", e.Rebuilds(),
				"cache_rows", snap.Table.Len(),
				"alpha", snap.Alpha,
				"elapsed", elapsed,
			)
			fmt.Printf("rows rotated: %d\n", rows.Load())
			fmt.Printf("rebuilds:     %d\n", e.Rebuilds())
			fmt.Printf("cache rows:   %d (alpha %g)\n", snap.Table.Len(), snap.Alpha)
			fmt.Printf("throughput:   %.0f rows/s\n", float64(rows.Load())/elapsed.Seconds())
			return nil
		},
	}
}
