package rope

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/rotary/internal/logger"
)

const minAdaptiveLength = 16

// NTKAlpha returns max(1, 2^ceil(log2(trueLen/referenceLength)+1) - 1).
// It is 1 for every trueLen <= referenceLength and steps through 3, 7, 15...
// as trueLen crosses successive doublings of the reference.
func NTKAlpha(trueLen, referenceLength int) float64 {
	if trueLen <= 0 || referenceLength <= 0 {
		return 1
	}
	ctx := math.Log2(float64(trueLen)/float64(referenceLength)) + 1
	alpha := math.Pow(2, math.Ceil(ctx)) - 1
	return math.Max(alpha, 1)
}

// AlphaBase stretches base by alpha^(d/(d-2)).
func AlphaBase(base, alpha float64, rotaryDim int) float64 {
	return base * math.Pow(alpha, ntkExponent(rotaryDim))
}

// Snapshot is one published state of an adaptive cache. Snapshots are
// immutable; a rebuild publishes a new one.
type Snapshot struct {
	Table *Table
	// Length is the sequence length the recompute policy considers covered.
	Length int
	Alpha  float64
	Base   float64
}

// adaptiveCache owns the mutable cache of a KindAdaptiveNTK encoder. Readers
// load the current snapshot without locking; rebuilds are serialised by mu and
// published with a single atomic store.
type adaptiveCache struct {
	cfg      Config
	log      logger.Logger
	mu       sync.Mutex
	cur      atomic.Pointer[Snapshot]
	rebuilds atomic.Int64
}

func newAdaptiveCache(cfg Config, initial *Table, log logger.Logger) *adaptiveCache {
	c := &adaptiveCache{cfg: cfg, log: log}
	// Length starts at zero so the first request always rebuilds for its
	// own true length.
	c.cur.Store(&Snapshot{Table: initial, Length: 0, Alpha: 1, Base: cfg.Base})
	return c
}

func (c *adaptiveCache) current() *Snapshot { return c.cur.Load() }

func (c *adaptiveCache) covers(s *Snapshot, trueLen int, alpha float64) bool {
	return trueLen <= s.Length && alpha == s.Alpha
}

// ensure returns a snapshot built for trueLen, rebuilding when trueLen is
// beyond the covered length or its alpha differs from the cached one. The
// returned snapshot stays valid for the caller even if another request
// publishes a different one afterwards.
//
// A rebuild keeps at least the previous length even when only alpha changed,
// so a batch mixing short and long samples of different alphas rebuilds the
// long table once per alpha on every call.
func (c *adaptiveCache) ensure(trueLen int) (*Snapshot, bool, error) {
	alpha := NTKAlpha(trueLen, c.cfg.ReferenceLength)
	if s := c.cur.Load(); c.covers(s, trueLen, alpha) {
		return s, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.cur.Load()
	if c.covers(prev, trueLen, alpha) {
		return prev, false, nil
	}

	length := max(2*trueLen, minAdaptiveLength, prev.Length)
	table, err := buildAlpha(c.cfg, alpha, length)
	if err != nil {
		return nil, false, err
	}
	next := &Snapshot{Table: table, Length: length, Alpha: alpha, Base: table.Base()}
	c.cur.Store(next)
	c.rebuilds.Add(1)

	c.log.Debug("rope cache rebuilt",
		"true_len", trueLen,
		"alpha", alpha,
		"cached_length", length,
		"base", next.Base,
	)
	return next, true, nil
}
