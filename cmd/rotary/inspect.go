package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rotary/internal/tablefile"
)

func inspectCmd() *cli.Command {
	var (
		headerOnly bool
		show       int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe a table file written by `rotary table --out`",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "header", Usage: "read only the header; skip payload verification", Destination: &headerOnly},
			&cli.IntFlag{Name: "rows", Usage: "number of leading rows to print", Value: 2, Destination: &show},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("error: table file path is required", 1)
			}

			if headerOnly {
				f, err := os.Open(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				h, err := tablefile.Peek(f)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				renderHeader(h)
				return nil
			}

			tf, err := tablefile.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			renderHeader(tf.Header)
			half := tf.Table.Dim() / 2
			for p := range min(show, tf.Table.Len()) {
				cos, sin, _ := tf.Table.CosSin(p)
				fmt.Printf("[%d] cos=%v sin=%v\n", p, cos[:min(4, half)], sin[:min(4, half)])
			}
			return nil
		},
	}
}

func renderHeader(h tablefile.Header) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"FIELD", "VALUE"})
	table.SetBorder(false)
	table.AppendBulk([][]string{
		{"version", strconv.Itoa(int(h.Version))},
		{"dtype", h.DType.String()},
		{"codec", h.Codec.String()},
		{"rows", strconv.FormatUint(uint64(h.Rows), 10)},
		{"rotary dim", strconv.FormatUint(uint64(h.Dim), 10)},
		{"base", strconv.FormatFloat(h.Base, 'g', -1, 64)},
		{"alpha", strconv.FormatFloat(h.Alpha, 'g', -1, 64)},
		{"raw bytes", strconv.FormatUint(h.RawSize, 10)},
		{"payload bytes", strconv.FormatUint(h.PayloadSize, 10)},
		{"checksum", fmt.Sprintf("%016x", h.Checksum)},
	})
	table.Render()
}
