package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the rnncap configuration file (~/.config/rnncap/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Decoding defaults
	Mode        string   `yaml:"mode"`
	BeamSize    *int64   `yaml:"beam_size"`
	Temperature *float64 `yaml:"temperature"`
	TopK        *int64   `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`
	RankBy      string   `yaml:"rank_by"`
	Workers     *int64   `yaml:"workers"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rnncap", "config.yaml")
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
}

// applyDecodeConfig applies config file defaults to decoding flags that were
// not explicitly set.
func applyDecodeConfig(c *cli.Command, cfg Config, d *decodeFlags) {
	applyModelConfig(c, cfg)
	if cfg.Mode != "" && !c.IsSet("mode") {
		d.mode = cfg.Mode
	}
	if cfg.BeamSize != nil && !c.IsSet("beam-size") {
		d.beamSize = *cfg.BeamSize
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		d.temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		d.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		d.topP = *cfg.TopP
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		d.seed = *cfg.Seed
	}
	if cfg.RankBy != "" && !c.IsSet("rank-by") {
		d.rankBy = cfg.RankBy
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
