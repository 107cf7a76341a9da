package rope

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/samcharles93/rotary/internal/batch"
)

func adaptiveConfig(ref int) Config {
	cfg := baseConfig()
	cfg.Kind = KindAdaptiveNTK
	cfg.ReferenceLength = ref
	return cfg
}

func TestNTKAlphaReferenceValues(t *testing.T) {
	tests := []struct {
		trueLen int
		want    float64
	}{
		{1, 1},
		{4096, 1},
		{8192, 1},
		{8193, 3},
		{16384, 3},
		{16385, 7},
		{32768, 7},
		{65536, 15},
	}
	for _, tc := range tests {
		if got := NTKAlpha(tc.trueLen, 8192); got != tc.want {
			t.Errorf("NTKAlpha(%d, 8192) = %g, want %g", tc.trueLen, got, tc.want)
		}
	}
	if got := NTKAlpha(0, 8192); got != 1 {
		t.Errorf("NTKAlpha(0) = %g, want 1", got)
	}
}

func TestNTKAlphaMonotonic(t *testing.T) {
	prev := 0.0
	for n := 1; n <= 5000; n++ {
		a := NTKAlpha(n, 100)
		if a < prev {
			t.Fatalf("alpha decreased at %d: %g < %g", n, a, prev)
		}
		prev = a
	}
}

func TestAlphaBase(t *testing.T) {
	if got := AlphaBase(10_000, 1, 128); got != 10_000 {
		t.Fatalf("alpha 1 base = %g", got)
	}
	got := AlphaBase(10_000, 3, 128)
	want := 10_000 * math.Pow(3, 128.0/126.0)
	if math.Abs(got-want) > 1e-9*want {
		t.Fatalf("alpha 3 base = %g want %g", got, want)
	}
}

func newAdaptive(t *testing.T, ref int) *Encoder {
	t.Helper()
	e, err := New(adaptiveConfig(ref), &recordingRotator{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestAdaptiveInitialState(t *testing.T) {
	cfg := adaptiveConfig(32)
	e := newAdaptive(t, 32)
	snap := e.Snapshot()
	if snap.Length != 0 || snap.Alpha != 1 || snap.Base != cfg.Base {
		t.Fatalf("initial snapshot %+v", snap)
	}
	if snap.Table.Len() != cfg.MaxPositions {
		t.Fatalf("initial table len=%d want %d", snap.Table.Len(), cfg.MaxPositions)
	}

	// Even a short first request rebuilds, to the minimum length.
	s, rebuilt, err := e.Ensure(5)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !rebuilt || s.Length != minAdaptiveLength || s.Table.Len() != minAdaptiveLength {
		t.Fatalf("first Ensure(5): rebuilt=%v length=%d", rebuilt, s.Length)
	}
}

func TestEnsureIdempotent(t *testing.T) {
	e := newAdaptive(t, 32)

	first, rebuilt, err := e.Ensure(100)
	if err != nil || !rebuilt {
		t.Fatalf("first Ensure: rebuilt=%v err=%v", rebuilt, err)
	}
	second, rebuilt, err := e.Ensure(100)
	if err != nil || rebuilt {
		t.Fatalf("second Ensure: rebuilt=%v err=%v", rebuilt, err)
	}
	if first != second {
		t.Fatal("second Ensure should return the published snapshot")
	}
	if second.Length != 200 || second.Alpha != NTKAlpha(100, 32) {
		t.Fatalf("snapshot length=%d alpha=%g", second.Length, second.Alpha)
	}
	if e.Rebuilds() != 1 {
		t.Fatalf("rebuilds=%d want 1", e.Rebuilds())
	}
}

func TestEnsureMonotonicLength(t *testing.T) {
	e := newAdaptive(t, 8192)
	prev := 0
	for _, n := range []int{10, 10, 30, 31, 500, 9000, 9000, 9001, 20000, 20000} {
		s, _, err := e.Ensure(n)
		if err != nil {
			t.Fatalf("Ensure(%d): %v", n, err)
		}
		if s.Length < prev {
			t.Fatalf("Ensure(%d): length shrank %d -> %d", n, prev, s.Length)
		}
		if s.Length < n || s.Table.Len() != s.Length {
			t.Fatalf("Ensure(%d): length %d table %d", n, s.Length, s.Table.Len())
		}
		prev = s.Length
	}
}

func TestEnsureRebuildsOnAlphaChange(t *testing.T) {
	e := newAdaptive(t, 8)
	long, _, err := e.Ensure(20)
	if err != nil {
		t.Fatalf("Ensure(20): %v", err)
	}
	if long.Alpha != 7 || long.Length != 40 {
		t.Fatalf("Ensure(20): alpha=%g length=%d", long.Alpha, long.Length)
	}
	if want := AlphaBase(10_000, 7, 8); long.Base != want || long.Table.Base() != want {
		t.Fatalf("Ensure(20): base=%g want %g", long.Base, want)
	}

	short, rebuilt, err := e.Ensure(5)
	if err != nil {
		t.Fatalf("Ensure(5): %v", err)
	}
	if !rebuilt || short.Alpha != 1 || short.Base != 10_000 {
		t.Fatalf("Ensure(5): rebuilt=%v alpha=%g base=%g", rebuilt, short.Alpha, short.Base)
	}
	if short.Length != 40 {
		t.Fatalf("rebuild shrank the cache to %d", short.Length)
	}
	// The snapshot handed to the earlier caller is untouched.
	if long.Alpha != 7 || long.Table.Len() != 40 {
		t.Fatal("published snapshot was mutated")
	}
}

func TestApplyMixedAlphaKeepsLongTable(t *testing.T) {
	rot := &recordingRotator{}
	e, err := New(adaptiveConfig(4096), rot)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for call := 1; call <= 2; call++ {
		q, k := rowBuffers(2, 16, 16)
		if _, _, err := e.Apply([]int{9, 9998}, q, k, batch.Decode(10, 9999)); err != nil {
			t.Fatalf("call %d: Apply: %v", call, err)
		}
		if got := e.Rebuilds(); got != int64(2*call) {
			t.Fatalf("call %d: rebuilds=%d want %d", call, got, 2*call)
		}
	}

	// Only the very first short sample sees a short table.
	wantLens := []int{20, 19998, 19998, 19998}
	if len(rot.calls) != len(wantLens) {
		t.Fatalf("expected %d rotator calls, got %d", len(wantLens), len(rot.calls))
	}
	for i, c := range rot.calls {
		if c.tableLen != wantLens[i] {
			t.Fatalf("call %d: table len=%d want %d", i, c.tableLen, wantLens[i])
		}
	}
	if s := e.Snapshot(); s.Alpha != 7 || s.Length != 19998 {
		t.Fatalf("final snapshot alpha=%g length=%d", s.Alpha, s.Length)
	}
}

func TestEnsureConcurrent(t *testing.T) {
	e := newAdaptive(t, 64)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				n := 1 + rng.Intn(400)
				s, _, err := e.Ensure(n)
				if err != nil {
					errs <- err
					return
				}
				if s.Alpha != NTKAlpha(n, 64) || s.Table.Len() < n {
					t.Errorf("Ensure(%d) returned alpha=%g len=%d", n, s.Alpha, s.Table.Len())
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Ensure: %v", err)
	}
}
