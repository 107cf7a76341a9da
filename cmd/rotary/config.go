package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/rotary/internal/rope"
)

// Config is the rotary configuration file. Command-line flags take
// precedence over any value set here.
type Config struct {
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	ServerAddress string        `yaml:"server_address"`
	Layers        []LayerConfig `yaml:"layers"`
}

// LayerConfig describes one served attention layer.
type LayerConfig struct {
	Name            string  `yaml:"name"`
	HFConfig        string  `yaml:"hf_config"`
	HeadSize        int     `yaml:"head_size"`
	RotaryDim       int     `yaml:"rotary_dim"`
	MaxPositions    int     `yaml:"max_position_embeddings"`
	Base            float64 `yaml:"base"`
	Style           string  `yaml:"style"`
	Kind            string  `yaml:"kind"`
	ScalingFactor   float64 `yaml:"scaling_factor"`
	ReferenceLength int     `yaml:"reference_length"`
	// TableFile seeds a static layer with an exported table.
	TableFile string `yaml:"table_file"`
}

func (l LayerConfig) encoding() encodingFlags {
	return encodingFlags{
		hfConfig:        l.HFConfig,
		headSize:        l.HeadSize,
		rotaryDim:       l.RotaryDim,
		maxPositions:    l.MaxPositions,
		base:            l.Base,
		style:           l.Style,
		kind:            l.Kind,
		scalingFactor:   l.ScalingFactor,
		referenceLength: l.ReferenceLength,
	}
}

// Rope resolves the layer to a validated rope.Config.
func (l LayerConfig) Rope() (rope.Config, error) {
	f := l.encoding()
	if f.base == 0 {
		f.base = 10_000
	}
	cfg, err := f.config()
	if err != nil {
		return rope.Config{}, fmt.Errorf("layer %q: %w", l.Name, err)
	}
	return cfg, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rotary", "config.yaml")
}

// LoadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file is an
// error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(cfg.Layers))
	for i, l := range cfg.Layers {
		if l.Name == "" {
			return Config{}, fmt.Errorf("config %s: layer %d has no name", path, i)
		}
		if _, dup := seen[l.Name]; dup {
			return Config{}, fmt.Errorf("config %s: duplicate layer %q", path, l.Name)
		}
		seen[l.Name] = struct{}{}
	}
	return cfg, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
