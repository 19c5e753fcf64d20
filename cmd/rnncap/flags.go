package main

import "github.com/urfave/cli/v3"

var (
	modelPath  string
	modelsPath string
	workers    int64
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model directory (config.yaml, vocab.json, model.safetensors)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to a directory containing model directories",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "concurrent beam search items",
			Value:       1,
			Destination: &workers,
		},
	}
}

// decodeFlags holds the per-request decoding overrides shared by caption
// and serve-side defaults.
type decodeFlags struct {
	mode        string
	beamSize    int64
	seed        int64
	temperature float64
	topK        int64
	topP        float64
	rankBy      string
	nbest       bool
}

func (d *decodeFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "decoding mode (greedy, sample, beam); defaults to the model config",
			Destination: &d.mode,
		},
		&cli.Int64Flag{
			Name:        "beam-size",
			Aliases:     []string{"k"},
			Usage:       "beam width; defaults to the model config",
			Destination: &d.beamSize,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed",
			Destination: &d.seed,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature; defaults to the model config",
			Destination: &d.temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "sample only from the k most likely tokens (0 = all)",
			Destination: &d.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold (0 or 1 = off)",
			Destination: &d.topP,
		},
		&cli.StringFlag{
			Name:        "rank-by",
			Usage:       "beam ranking (normalized, likelihood)",
			Value:       "normalized",
			Destination: &d.rankBy,
		},
		&cli.BoolFlag{
			Name:        "nbest",
			Usage:       "print every ranked beam, not just the best",
			Destination: &d.nbest,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
