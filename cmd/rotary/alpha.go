package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotary/internal/rope"
)

var defaultAlphaLengths = []int{1, 1024, 4096, 8192, 8193, 12288, 16384, 16385, 32768, 65536}

func alphaCmd() *cli.Command {
	var (
		referenceLength int
		rotaryDim       int
		base            float64
		lengths         string
	)

	return &cli.Command{
		Name:  "alpha",
		Usage: "Show the adaptive NTK alpha and base chosen for each sequence length",
		Description: "MIN CACHE ROWS is the length a fresh encoder builds for the sample. A\n" +
			"running encoder never shrinks its cache, so after earlier rebuilds it may be larger.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "reference-length", Usage: "sequence length at which alpha is 1", Value: 8192, Destination: &referenceLength},
			&cli.IntFlag{Name: "rotary-dim", Usage: "rotated dimensions per head", Value: 128, Destination: &rotaryDim},
			&cli.Float64Flag{Name: "base", Usage: "rope base (theta)", Value: 10_000, Destination: &base},
			&cli.StringFlag{Name: "lengths", Usage: "comma separated true lengths", Destination: &lengths},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if referenceLength <= 0 {
				return cli.Exit("error: --reference-length must be positive", 1)
			}
			if rotaryDim <= 2 || rotaryDim%2 != 0 {
				return cli.Exit("error: --rotary-dim must be even and greater than 2", 1)
			}
			lens, err := parseInts(lengths)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(lens) == 0 {
				lens = defaultAlphaLengths
			}

			rows, err := alphaRows(lens, referenceLength, rotaryDim, base)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"TRUE LEN", "ALPHA", "BASE", "MIN CACHE ROWS"})
			table.SetAlignment(tablewriter.ALIGN_RIGHT)
			table.SetBorder(false)
			table.AppendBulk(rows)
			table.Render()
			return nil
		},
	}
}

// alphaRows formats one listing row per true length.
func alphaRows(lens []int, referenceLength, rotaryDim int, base float64) ([][]string, error) {
	rows := make([][]string, 0, len(lens))
	for _, n := range lens {
		if n <= 0 {
			return nil, fmt.Errorf("invalid length %d", n)
		}
		alpha := rope.NTKAlpha(n, referenceLength)
		rows = append(rows, []string{
			strconv.Itoa(n),
			strconv.FormatFloat(alpha, 'g', -1, 64),
			strconv.FormatFloat(rope.AlphaBase(base, alpha, rotaryDim), 'f', 1, 64),
			strconv.Itoa(max(2*n, 16)),
		})
	}
	return rows, nil
}
