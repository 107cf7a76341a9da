package rope

import (
	"fmt"
	"math"

	"github.com/samcharles93/rotary/internal/batch"
	"github.com/samcharles93/rotary/internal/logger"
)

// Rotator applies a finished cache to query and key rows in place.
//
// positions has one entry per token row; query and key hold that many rows,
// each a whole number of headSize-wide heads. For row t the table row at
// positions[t] rotates the first table.Dim() values of every head.
// Implementations may assume every position is below table.Len().
type Rotator interface {
	Rotate(positions []int, query, key []float32, headSize int, table *Table, style Style) error
}

// Option configures an Encoder.
type Option func(*options)

type options struct {
	log   logger.Logger
	table *Table
}

// WithLogger sets the logger used for cache construction and rebuilds.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTable seeds a static encoder with a previously built table instead of
// building one. The table must match the config's dimensions and effective
// base and cover its effective length.
func WithTable(t *Table) Option {
	return func(o *options) { o.table = t }
}

// Encoder applies one layer's rotary encoding to batches. It is safe for
// concurrent use: static variants never change their table and the adaptive
// variant publishes rebuilt tables atomically.
type Encoder struct {
	cfg      Config
	rot      Rotator
	log      logger.Logger
	table    *Table
	adaptive *adaptiveCache
}

// New validates cfg and builds its cache. No state is kept if cfg is rejected.
func New(cfg Config, rot Rotator, opts ...Option) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rot == nil {
		return nil, fmt.Errorf("%w: nil rotator", ErrInvalidConfig)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard()
	}
	log := o.log.With("kind", cfg.Kind.String(), "rotary_dim", cfg.RotaryDim)

	table := o.table
	if table != nil {
		if err := checkSeedTable(cfg, table); err != nil {
			return nil, err
		}
	} else {
		var err error
		if table, err = Build(cfg); err != nil {
			return nil, err
		}
	}

	e := &Encoder{cfg: cfg, rot: rot, log: log}
	if cfg.Kind == KindAdaptiveNTK {
		e.adaptive = newAdaptiveCache(cfg, table, log)
	} else {
		e.table = table
	}
	log.Info("rope cache built", "positions", table.Len(), "base", table.Base(), "seeded", o.table != nil)
	return e, nil
}

func checkSeedTable(cfg Config, t *Table) error {
	if cfg.Kind == KindAdaptiveNTK {
		return fmt.Errorf("%w: adaptive encoders cannot be seeded with a table", ErrInvalidConfig)
	}
	if t.Dim() != cfg.RotaryDim {
		return fmt.Errorf("%w: seed table dim %d, rotary_dim %d", ErrInvalidConfig, t.Dim(), cfg.RotaryDim)
	}
	if t.Len() < cfg.EffectiveLength() {
		return fmt.Errorf("%w: seed table covers %d positions, need %d", ErrInvalidConfig, t.Len(), cfg.EffectiveLength())
	}
	want := cfg.EffectiveBase()
	if math.Abs(t.Base()-want) > 1e-9*want {
		return fmt.Errorf("%w: seed table base %v, expected %v", ErrInvalidConfig, t.Base(), want)
	}
	return nil
}

// Config returns the configuration the encoder was built with.
func (e *Encoder) Config() Config { return e.cfg }

// Snapshot reports the cache currently in use. Static encoders always return
// the same snapshot.
func (e *Encoder) Snapshot() *Snapshot {
	if e.adaptive != nil {
		return e.adaptive.current()
	}
	return &Snapshot{Table: e.table, Length: e.table.Len(), Alpha: 1, Base: e.table.Base()}
}

// Rebuilds counts adaptive cache rebuilds since construction.
func (e *Encoder) Rebuilds() int64 {
	if e.adaptive == nil {
		return 0
	}
	return e.adaptive.rebuilds.Load()
}

// Ensure runs the adaptive recompute policy for trueLen and returns the
// snapshot to rotate with. Static encoders return their fixed snapshot.
func (e *Encoder) Ensure(trueLen int) (*Snapshot, bool, error) {
	if e.adaptive == nil {
		return e.Snapshot(), false, nil
	}
	return e.adaptive.ensure(trueLen)
}

// Apply rotates query and key in place for a ragged batch and returns them.
// Row order is never changed: each sample is rotated through a view onto the
// shared buffers.
func (e *Encoder) Apply(positions []int, query, key []float32, md batch.Metadata) ([]float32, []float32, error) {
	desc, err := batch.FromMetadata(md)
	if err != nil {
		return nil, nil, err
	}
	qw, kw, err := e.rowWidths(len(positions), len(query), len(key))
	if err != nil {
		return nil, nil, err
	}
	if desc.NumSamples() == 0 {
		return query, key, nil
	}

	spans, err := desc.Spans(len(positions))
	if err != nil {
		return nil, nil, err
	}

	if e.adaptive == nil {
		if err := checkPositions(positions, e.table, ErrPositionOutOfRange); err != nil {
			return nil, nil, err
		}
		if err := e.rot.Rotate(positions, query, key, e.cfg.HeadSize, e.table, e.cfg.Style); err != nil {
			return nil, nil, err
		}
		return query, key, nil
	}

	for _, sp := range spans {
		snap, _, err := e.adaptive.ensure(sp.TrueLen)
		if err != nil {
			return nil, nil, err
		}
		pos := positions[sp.Start:sp.End]
		if err := checkPositions(pos, snap.Table, ErrCacheInvariant); err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", sp.Sample, err)
		}
		q := query[sp.Start*qw : sp.End*qw]
		k := key[sp.Start*kw : sp.End*kw]
		if err := e.rot.Rotate(pos, q, k, e.cfg.HeadSize, snap.Table, e.cfg.Style); err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", sp.Sample, err)
		}
	}
	return query, key, nil
}

func (e *Encoder) rowWidths(tokens, nq, nk int) (int, int, error) {
	if tokens == 0 {
		if nq != 0 || nk != 0 {
			return 0, 0, fmt.Errorf("%w: no positions for %d query and %d key values", ErrShapeMismatch, nq, nk)
		}
		return 0, 0, nil
	}
	if nq%tokens != 0 || nk%tokens != 0 {
		return 0, 0, fmt.Errorf("%w: %d positions do not divide query %d / key %d", ErrShapeMismatch, tokens, nq, nk)
	}
	qw, kw := nq/tokens, nk/tokens
	hs := e.cfg.HeadSize
	if qw == 0 || kw == 0 || qw%hs != 0 || kw%hs != 0 {
		return 0, 0, fmt.Errorf("%w: row widths %d/%d are not multiples of head_size %d", ErrShapeMismatch, qw, kw, hs)
	}
	return qw, kw, nil
}

func checkPositions(positions []int, t *Table, sentinel error) error {
	for i, p := range positions {
		if p < 0 || p >= t.Len() {
			return fmt.Errorf("%w: row %d position %d, cache length %d", sentinel, i, p, t.Len())
		}
	}
	return nil
}
