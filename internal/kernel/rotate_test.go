package kernel

import (
	"math"
	"testing"

	"github.com/samcharles93/rotary/internal/batch"
	"github.com/samcharles93/rotary/internal/rope"
)

func testTable(t *testing.T, rotaryDim int) *rope.Table {
	t.Helper()
	table, err := rope.Build(rope.Config{
		HeadSize:     8,
		RotaryDim:    rotaryDim,
		MaxPositions: 32,
		Base:         10_000,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return table
}

func fill(x []float32, seed float32) {
	for i := range x {
		x[i] = seed + float32(i)*0.25
	}
}

func TestSplitHalfMatchesReference(t *testing.T) {
	const headSize, heads, pos = 8, 2, 5
	table := testTable(t, headSize)
	q := make([]float32, heads*headSize)
	k := make([]float32, headSize)
	fill(q, 0.5)
	fill(k, -1)
	origQ := append([]float32(nil), q...)
	origK := append([]float32(nil), k...)

	if err := (CPU{}).Rotate([]int{pos}, q, k, headSize, table, rope.StyleSplitHalf); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	inv, _ := rope.InvFreq(10_000, headSize)
	half := headSize / 2
	check := func(name string, got, orig []float32) {
		for h := 0; h < len(orig)/headSize; h++ {
			for i := 0; i < half; i++ {
				c, s := math.Cos(pos*inv[i]), math.Sin(pos*inv[i])
				x0, x1 := float64(orig[h*headSize+i]), float64(orig[h*headSize+i+half])
				w0, w1 := x0*c-x1*s, x1*c+x0*s
				if math.Abs(float64(got[h*headSize+i])-w0) > 1e-5 || math.Abs(float64(got[h*headSize+i+half])-w1) > 1e-5 {
					t.Fatalf("%s head %d pair %d: got (%g,%g) want (%g,%g)", name, h, i, got[h*headSize+i], got[h*headSize+i+half], w0, w1)
				}
			}
		}
	}
	check("query", q, origQ)
	check("key", k, origK)
}

func TestInterleavedPairsAdjacent(t *testing.T) {
	table := testTable(t, 8)
	x := []float32{1, 0, 1, 0, 1, 0, 1, 0}
	if err := (CPU{}).Rotate([]int{3}, x, make([]float32, 8), 8, table, rope.StyleInterleaved); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	cos, sin, _ := table.CosSin(3)
	for i := range cos {
		if math.Abs(float64(x[2*i]-cos[i])) > 1e-6 || math.Abs(float64(x[2*i+1]-sin[i])) > 1e-6 {
			t.Fatalf("pair %d = (%g,%g), want (%g,%g)", i, x[2*i], x[2*i+1], cos[i], sin[i])
		}
	}
}

func TestPartialRotaryLeavesTail(t *testing.T) {
	table := testTable(t, 4)
	x := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	if err := (CPU{}).Rotate([]int{7}, x, make([]float32, 8), 8, table, rope.StyleSplitHalf); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	for i, want := range []float32{5, 6, 7, 8} {
		if x[4+i] != want {
			t.Fatalf("pass-through dim %d changed to %g", 4+i, x[4+i])
		}
	}
}

func TestRotationPreservesNorm(t *testing.T) {
	table := testTable(t, 8)
	x := make([]float32, 8)
	fill(x, 0.3)
	norm := func(v []float32) float64 {
		var s float64
		for _, f := range v {
			s += float64(f) * float64(f)
		}
		return s
	}
	before := norm(x)
	if err := (CPU{}).Rotate([]int{31}, x, make([]float32, 8), 8, table, rope.StyleSplitHalf); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if math.Abs(norm(x)-before) > 1e-4*before {
		t.Fatalf("norm changed: %g -> %g", before, norm(x))
	}
}

func TestRotateOutOfRange(t *testing.T) {
	table := testTable(t, 8)
	if err := (CPU{}).Rotate([]int{32}, make([]float32, 8), make([]float32, 8), 8, table, rope.StyleSplitHalf); err == nil {
		t.Fatal("expected error for position beyond the table")
	}
}

// Driving the encoder with the reference kernel: each sample of a ragged
// adaptive batch must come out identical to rotating it alone.
func TestEncoderMatchesPerSampleRotation(t *testing.T) {
	cfg := rope.Config{
		HeadSize:        8,
		RotaryDim:       8,
		MaxPositions:    16,
		Base:            10_000,
		Kind:            rope.KindAdaptiveNTK,
		ReferenceLength: 4,
	}
	enc, err := rope.New(cfg, CPU{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lens := []int{3, 9}
	var positions []int
	for _, n := range lens {
		for p := 0; p < n; p++ {
			positions = append(positions, p)
		}
	}
	q := make([]float32, len(positions)*8)
	k := make([]float32, len(positions)*8)
	fill(q, 1)
	fill(k, 2)
	wantQ := append([]float32(nil), q...)

	if _, _, err := enc.Apply(positions, q, k, batch.Prefill(lens...)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	start := 0
	for _, n := range lens {
		snap, _, err := enc.Ensure(n)
		if err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		rows := wantQ[start*8 : (start+n)*8]
		if err := (CPU{}).Rotate(positions[start:start+n], rows, make([]float32, n*8), 8, snap.Table, rope.StyleSplitHalf); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		start += n
	}
	for i := range q {
		if math.Abs(float64(q[i]-wantQ[i])) > 1e-6 {
			t.Fatalf("value %d: %g want %g", i, q[i], wantQ[i])
		}
	}
}
