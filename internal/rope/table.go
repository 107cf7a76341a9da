package rope

import (
	"fmt"
	"math"
)

// Table is a finished frequency cache. Row p holds rotary_dim values: the
// first half are cos(p*inv_freq[j]), the second half sin(p*inv_freq[j]).
//
// A Table is never modified after it is built; slices returned by Row and
// Data must be treated as read-only.
type Table struct {
	rows int
	dim  int
	base float64
	data []float32
}

// NewTable wraps precomputed row-major cache data.
func NewTable(rows, dim int, base float64, data []float32) (*Table, error) {
	if rows < 0 || dim < 2 || dim%2 != 0 {
		return nil, fmt.Errorf("%w: table %dx%d", ErrShapeMismatch, rows, dim)
	}
	if len(data) != rows*dim {
		return nil, fmt.Errorf("%w: table %dx%d needs %d values, got %d", ErrShapeMismatch, rows, dim, rows*dim, len(data))
	}
	return &Table{rows: rows, dim: dim, base: base, data: data}, nil
}

// Len is the number of positions covered.
func (t *Table) Len() int { return t.rows }

// Dim is the row width (rotary_dim).
func (t *Table) Dim() int { return t.dim }

// Base is the effective base the table was derived from.
func (t *Table) Base() float64 { return t.base }

// Data exposes the row-major backing array.
func (t *Table) Data() []float32 { return t.data }

// Row returns the cos/sin row for position p.
func (t *Table) Row(p int) ([]float32, error) {
	if p < 0 || p >= t.rows {
		return nil, fmt.Errorf("%w: position %d, cache length %d", ErrPositionOutOfRange, p, t.rows)
	}
	return t.data[p*t.dim : (p+1)*t.dim], nil
}

// CosSin splits a row into its cosine and sine halves.
func (t *Table) CosSin(p int) (cos, sin []float32, err error) {
	row, err := t.Row(p)
	if err != nil {
		return nil, nil, err
	}
	half := t.dim / 2
	return row[:half], row[half:], nil
}

// buildTable evaluates rows positions against invFreq. Each position index is
// divided by posScale before use; angles are formed in float64 and narrowed
// once when stored.
func buildTable(invFreq []float64, rows int, posScale, base float64) *Table {
	half := len(invFreq)
	dim := 2 * half
	data := make([]float32, rows*dim)
	for p := 0; p < rows; p++ {
		pos := float64(p) / posScale
		row := data[p*dim : (p+1)*dim]
		for j, f := range invFreq {
			s, c := math.Sincos(pos * f)
			row[j] = float32(c)
			row[half+j] = float32(s)
		}
	}
	return &Table{rows: rows, dim: dim, base: base, data: data}
}
