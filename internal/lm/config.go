package lm

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("lm: invalid config")

// Config holds the caption language model hyper-parameters as stored in a
// model directory's config.yaml.
type Config struct {
	VocabSize  int `yaml:"vocab_size"`
	InputSize  int `yaml:"input_size"`
	EmbedSize  int `yaml:"embed_size"`
	HiddenSize int `yaml:"hidden_size"`
	NumLayers  int `yaml:"num_layers"`
	SeqLength  int `yaml:"seq_length"`

	// Decoding defaults. The engine may override them per request.
	BeamSize    int     `yaml:"beam_size,omitempty"`
	Mode        string  `yaml:"mode,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
}

// DefaultConfig returns a small model suitable for smoke tests.
func DefaultConfig(vocabSize int) Config {
	return Config{
		VocabSize:   vocabSize,
		InputSize:   64,
		EmbedSize:   32,
		HiddenSize:  64,
		NumLayers:   1,
		SeqLength:   16,
		BeamSize:    1,
		Mode:        "greedy",
		Temperature: 1,
	}
}

// Validate reports the first missing or non-positive dimension.
func (c Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("%w: vocab_size is required", ErrInvalidConfig)
	}
	dims := []struct {
		name string
		v    int
	}{
		{"input_size", c.InputSize},
		{"embed_size", c.EmbedSize},
		{"hidden_size", c.HiddenSize},
		{"num_layers", c.NumLayers},
		{"seq_length", c.SeqLength},
	}
	for _, d := range dims {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, d.name, d.v)
		}
	}
	if c.BeamSize < 0 {
		return fmt.Errorf("%w: beam_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and validates a config.yaml file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read model config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as yaml.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode model config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
