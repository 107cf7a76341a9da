package rope

// Build validates cfg and materialises its construction-time cache.
//
// For KindAdaptiveNTK this is the alpha=1 table over max_position_embeddings;
// later tables come from the recompute policy.
func Build(cfg Config) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindLinear:
		invFreq, err := InvFreq(cfg.Base, cfg.RotaryDim)
		if err != nil {
			return nil, err
		}
		return buildTable(invFreq, cfg.EffectiveLength(), cfg.ScalingFactor, cfg.Base), nil
	case KindDynamicNTK:
		base := cfg.EffectiveBase()
		invFreq, err := InvFreq(base, cfg.RotaryDim)
		if err != nil {
			return nil, err
		}
		return buildTable(invFreq, cfg.EffectiveLength(), 1, base), nil
	default:
		invFreq, err := InvFreq(cfg.Base, cfg.RotaryDim)
		if err != nil {
			return nil, err
		}
		return buildTable(invFreq, cfg.MaxPositions, 1, cfg.Base), nil
	}
}

// buildAlpha builds a table for the adaptive variant at the given alpha.
func buildAlpha(cfg Config, alpha float64, rows int) (*Table, error) {
	base := AlphaBase(cfg.Base, alpha, cfg.RotaryDim)
	invFreq, err := InvFreq(base, cfg.RotaryDim)
	if err != nil {
		return nil, err
	}
	return buildTable(invFreq, rows, 1, base), nil
}
