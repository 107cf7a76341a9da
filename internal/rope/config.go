package rope

import (
	"fmt"
	"math"
	"strings"
)

// Style selects how dimensions are paired for rotation.
type Style uint8

const (
	// StyleSplitHalf pairs dimension i with i+rotary_dim/2 (GPT-NeoX layout).
	StyleSplitHalf Style = iota
	// StyleInterleaved pairs dimension 2i with 2i+1 (GPT-J layout).
	StyleInterleaved
)

func (s Style) String() string {
	switch s {
	case StyleSplitHalf:
		return "split-half"
	case StyleInterleaved:
		return "interleaved"
	default:
		return fmt.Sprintf("style(%d)", uint8(s))
	}
}

func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "split-half", "neox":
		return StyleSplitHalf, nil
	case "interleaved", "gptj":
		return StyleInterleaved, nil
	}
	return 0, fmt.Errorf("%w: unknown style %q", ErrInvalidConfig, s)
}

// Kind selects the cache construction strategy.
type Kind uint8

const (
	KindBase Kind = iota
	KindLinear
	KindDynamicNTK
	KindAdaptiveNTK
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindLinear:
		return "linear"
	case KindDynamicNTK:
		return "dynamic-ntk"
	case KindAdaptiveNTK:
		return "adaptive-ntk"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base", "default":
		return KindBase, nil
	case "linear":
		return KindLinear, nil
	case "dynamic-ntk", "dynamic", "ntk":
		return KindDynamicNTK, nil
	case "adaptive-ntk", "adaptive", "qwen":
		return KindAdaptiveNTK, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, s)
}

// Config describes one attention layer's positional encoding.
// It is immutable once an Encoder has been built from it.
type Config struct {
	HeadSize     int
	RotaryDim    int
	MaxPositions int
	Base         float64
	Style        Style
	Kind         Kind

	// ScalingFactor applies to KindLinear and KindDynamicNTK.
	ScalingFactor float64
	// ReferenceLength applies to KindAdaptiveNTK: the sequence length at
	// which alpha is 1.
	ReferenceLength int
}

// Validate rejects configurations for which no cache can be built.
func (c Config) Validate() error {
	switch {
	case c.HeadSize <= 0:
		return fmt.Errorf("%w: head_size %d must be positive", ErrInvalidConfig, c.HeadSize)
	case c.RotaryDim < 2:
		return fmt.Errorf("%w: rotary_dim %d must be at least 2", ErrInvalidConfig, c.RotaryDim)
	case c.RotaryDim%2 != 0:
		return fmt.Errorf("%w: rotary_dim %d is odd", ErrInvalidConfig, c.RotaryDim)
	case c.RotaryDim > c.HeadSize:
		return fmt.Errorf("%w: rotary_dim %d exceeds head_size %d", ErrInvalidConfig, c.RotaryDim, c.HeadSize)
	case c.MaxPositions <= 0:
		return fmt.Errorf("%w: max_position_embeddings %d must be positive", ErrInvalidConfig, c.MaxPositions)
	case !(c.Base > 0) || math.IsInf(c.Base, 0):
		return fmt.Errorf("%w: base %v must be positive and finite", ErrInvalidConfig, c.Base)
	}
	if c.Style != StyleSplitHalf && c.Style != StyleInterleaved {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Style)
	}

	switch c.Kind {
	case KindBase:
	case KindLinear, KindDynamicNTK:
		if !(c.ScalingFactor > 0) || math.IsInf(c.ScalingFactor, 0) {
			return fmt.Errorf("%w: scaling_factor %v must be positive", ErrInvalidConfig, c.ScalingFactor)
		}
	case KindAdaptiveNTK:
		if c.ReferenceLength <= 0 {
			return fmt.Errorf("%w: reference_length %d must be positive", ErrInvalidConfig, c.ReferenceLength)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Kind)
	}

	// d/(d-2) is undefined for d == 2.
	if (c.Kind == KindDynamicNTK || c.Kind == KindAdaptiveNTK) && c.RotaryDim == 2 {
		return fmt.Errorf("%w: rotary_dim 2 is not supported by %s scaling", ErrInvalidConfig, c.Kind)
	}
	return nil
}

// EffectiveLength is the number of positions the cache is built for at
// construction. Scaled variants cover max_position_embeddings * factor.
func (c Config) EffectiveLength() int {
	switch c.Kind {
	case KindLinear, KindDynamicNTK:
		return int(math.Ceil(float64(c.MaxPositions) * c.ScalingFactor))
	default:
		return c.MaxPositions
	}
}

// EffectiveBase is the base the construction-time cache is derived from.
func (c Config) EffectiveBase() float64 {
	if c.Kind != KindDynamicNTK {
		return c.Base
	}
	maxLen := float64(c.MaxPositions) * c.ScalingFactor
	stretch := c.ScalingFactor*maxLen/float64(c.MaxPositions) - (c.ScalingFactor - 1)
	return c.Base * math.Pow(stretch, ntkExponent(c.RotaryDim))
}

func ntkExponent(rotaryDim int) float64 {
	return float64(rotaryDim) / float64(rotaryDim-2)
}
