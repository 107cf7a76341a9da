// Package hfconfig derives rotary encoding settings from a HuggingFace
// config.json.
package hfconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/rotary/internal/rope"
)

var (
	ErrUnsupportedScaling = errors.New("hfconfig: unsupported rope scaling")
	ErrMissingField       = errors.New("hfconfig: missing field")
)

const defaultRopeTheta = 10_000

// Config holds the subset of config.json that affects rotary encoding.
type Config struct {
	ModelType         string   `json:"model_type"`
	Architectures     []string `json:"architectures"`
	HiddenSize        int      `json:"hidden_size"`
	NumAttentionHeads int      `json:"num_attention_heads"`
	HeadDim           int      `json:"head_dim"`
	KVChannels        int      `json:"kv_channels"`
	MaxPosition       int      `json:"max_position_embeddings"`

	RopeTheta           float64 `json:"rope_theta"`
	RotaryEmbBase       float64 `json:"rotary_emb_base"`
	RotaryDim           int     `json:"rotary_dim"`
	RotaryPct           float64 `json:"rotary_pct"`
	PartialRotaryFactor float64 `json:"partial_rotary_factor"`

	RopeScaling *RopeScaling `json:"rope_scaling"`

	// Qwen-style adaptive NTK.
	UseDynamicNTK bool `json:"use_dynamic_ntk"`
	SeqLength     int  `json:"seq_length"`

	TextConfig *Config `json:"text_config"`
}

type RopeScaling struct {
	Type     string  `json:"type"`
	RopeType string  `json:"rope_type"`
	Factor   float64 `json:"factor"`
}

func (rs *RopeScaling) kind() string {
	t := strings.TrimSpace(rs.RopeType)
	if t == "" {
		t = strings.TrimSpace(rs.Type)
	}
	return strings.ToLower(t)
}

// Parse decodes config.json bytes, folding a nested text_config into the
// top level for fields the top level leaves unset.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("hfconfig: decode: %w", err)
	}
	cfg.mergeText()
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (c *Config) mergeText() {
	t := c.TextConfig
	if t == nil {
		return
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = t.HiddenSize
	}
	if c.NumAttentionHeads == 0 {
		c.NumAttentionHeads = t.NumAttentionHeads
	}
	if c.HeadDim == 0 {
		c.HeadDim = t.HeadDim
	}
	if c.MaxPosition == 0 {
		c.MaxPosition = t.MaxPosition
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = t.RopeTheta
	}
	if c.RopeScaling == nil {
		c.RopeScaling = t.RopeScaling
	}
	if c.PartialRotaryFactor == 0 {
		c.PartialRotaryFactor = t.PartialRotaryFactor
	}
}

func (c *Config) headSize() int {
	switch {
	case c.HeadDim > 0:
		return c.HeadDim
	case c.KVChannels > 0:
		return c.KVChannels
	case c.HiddenSize > 0 && c.NumAttentionHeads > 0:
		return c.HiddenSize / c.NumAttentionHeads
	}
	return 0
}

func (c *Config) rotaryDim(headSize int) int {
	if c.RotaryDim > 0 {
		return c.RotaryDim
	}
	pct := c.PartialRotaryFactor
	if pct <= 0 {
		pct = c.RotaryPct
	}
	if pct <= 0 || pct >= 1 {
		return headSize
	}
	return int(float64(headSize) * pct)
}

func (c *Config) base() float64 {
	switch {
	case c.RopeTheta > 0:
		return c.RopeTheta
	case c.RotaryEmbBase > 0:
		return c.RotaryEmbBase
	}
	return defaultRopeTheta
}

func (c *Config) style() rope.Style {
	if strings.EqualFold(c.ModelType, "gptj") {
		return rope.StyleInterleaved
	}
	return rope.StyleSplitHalf
}

// Rope maps the model config onto a validated rope.Config.
func (c *Config) Rope() (rope.Config, error) {
	headSize := c.headSize()
	if headSize <= 0 {
		return rope.Config{}, fmt.Errorf("%w: head_dim or hidden_size/num_attention_heads", ErrMissingField)
	}
	maxPos := c.MaxPosition
	if maxPos <= 0 {
		maxPos = c.SeqLength
	}
	if maxPos <= 0 {
		return rope.Config{}, fmt.Errorf("%w: max_position_embeddings", ErrMissingField)
	}

	out := rope.Config{
		HeadSize:     headSize,
		RotaryDim:    c.rotaryDim(headSize),
		MaxPositions: maxPos,
		Base:         c.base(),
		Style:        c.style(),
		Kind:         rope.KindBase,
	}

	switch {
	case c.UseDynamicNTK:
		out.Kind = rope.KindAdaptiveNTK
		out.ReferenceLength = c.SeqLength
		if out.ReferenceLength <= 0 {
			out.ReferenceLength = maxPos
		}
	case c.RopeScaling != nil:
		switch t := c.RopeScaling.kind(); t {
		case "", "default":
		case "linear":
			out.Kind = rope.KindLinear
			out.ScalingFactor = c.RopeScaling.Factor
		case "dynamic":
			out.Kind = rope.KindDynamicNTK
			out.ScalingFactor = c.RopeScaling.Factor
		default:
			return rope.Config{}, fmt.Errorf("%w: %q", ErrUnsupportedScaling, t)
		}
	}

	if err := out.Validate(); err != nil {
		return rope.Config{}, err
	}
	return out, nil
}
