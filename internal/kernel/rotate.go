// Package kernel is a scalar reference implementation of the rotary
// rotation operation. It follows the same contract as accelerated kernels
// and is used by the CLI, the HTTP server and tests.
package kernel

import (
	"fmt"

	"github.com/samcharles93/rotary/internal/rope"
)

// CPU rotates rows with plain Go loops.
type CPU struct{}

var _ rope.Rotator = CPU{}

func (CPU) Rotate(positions []int, query, key []float32, headSize int, table *rope.Table, style rope.Style) error {
	tokens := len(positions)
	if tokens == 0 {
		return nil
	}
	if headSize <= 0 || table.Dim() > headSize {
		return fmt.Errorf("kernel: rotary dim %d does not fit head size %d", table.Dim(), headSize)
	}
	if len(query)%tokens != 0 || len(key)%tokens != 0 {
		return fmt.Errorf("kernel: %d positions for query %d / key %d values", tokens, len(query), len(key))
	}
	qw, kw := len(query)/tokens, len(key)/tokens

	for t, p := range positions {
		cos, sin, err := table.CosSin(p)
		if err != nil {
			return err
		}
		rotateHeads(query[t*qw:(t+1)*qw], headSize, cos, sin, style)
		rotateHeads(key[t*kw:(t+1)*kw], headSize, cos, sin, style)
	}
	return nil
}

func rotateHeads(row []float32, headSize int, cos, sin []float32, style rope.Style) {
	for off := 0; off+headSize <= len(row); off += headSize {
		head := row[off : off+headSize]
		if style == rope.StyleInterleaved {
			rotateInterleaved(head, cos, sin)
		} else {
			rotateSplitHalf(head, cos, sin)
		}
	}
}

// rotateSplitHalf pairs x[i] with x[i+half].
func rotateSplitHalf(x, cos, sin []float32) {
	half := len(cos)
	for i := 0; i < half; i++ {
		x0, x1 := x[i], x[i+half]
		x[i] = x0*cos[i] - x1*sin[i]
		x[i+half] = x1*cos[i] + x0*sin[i]
	}
}

// rotateInterleaved pairs x[2i] with x[2i+1].
func rotateInterleaved(x, cos, sin []float32) {
	for i := range cos {
		x0, x1 := x[2*i], x[2*i+1]
		x[2*i] = x0*cos[i] - x1*sin[i]
		x[2*i+1] = x1*cos[i] + x0*sin[i]
	}
}
