package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rnncap/internal/captioner"
	"github.com/samcharles93/rnncap/internal/lm"
	"github.com/samcharles93/rnncap/internal/logger"
)

func initCmd() *cli.Command {
	var (
		outDir     string
		wordsPath  string
		vocabSize  int64
		inputSize  int64
		embedSize  int64
		hiddenSize int64
		numLayers  int64
		seqLength  int64
		beamSize   int64
		seed       int64
		dtype      string
		force      bool
	)
	def := lm.DefaultConfig(0)

	return &cli.Command{
		Name:  "init",
		Usage: "Write a randomly initialised model directory for smoke tests",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output model directory", Required: true, Destination: &outDir},
			&cli.StringFlag{Name: "words", Usage: "file with one vocabulary word per line", Destination: &wordsPath},
			&cli.Int64Flag{Name: "vocab-size", Usage: "number of placeholder words when --words is not set", Value: 32, Destination: &vocabSize},
			&cli.Int64Flag{Name: "input-size", Usage: "feature vector width", Value: int64(def.InputSize), Destination: &inputSize},
			&cli.Int64Flag{Name: "embed-size", Usage: "token embedding width", Value: int64(def.EmbedSize), Destination: &embedSize},
			&cli.Int64Flag{Name: "hidden-size", Usage: "LSTM hidden width", Value: int64(def.HiddenSize), Destination: &hiddenSize},
			&cli.Int64Flag{Name: "layers", Usage: "number of stacked LSTM layers", Value: int64(def.NumLayers), Destination: &numLayers},
			&cli.Int64Flag{Name: "seq-length", Usage: "caption horizon in tokens", Value: int64(def.SeqLength), Destination: &seqLength},
			&cli.Int64Flag{Name: "beam-size", Usage: "default beam width", Value: int64(def.BeamSize), Destination: &beamSize},
			&cli.Int64Flag{Name: "seed", Usage: "weight initialisation seed", Value: 1, Destination: &seed},
			&cli.StringFlag{Name: "dtype", Usage: "weight encoding (F32, F16)", Value: "F32", Destination: &dtype},
			&cli.BoolFlag{Name: "force", Usage: "overwrite existing files", Destination: &force},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			words := captioner.PlaceholderWords(int(vocabSize))
			if wordsPath != "" {
				var err error
				if words, err = readWords(wordsPath); err != nil {
					return cli.Exit(fmt.Sprintf("error: read words: %v", err), 1)
				}
			}
			cfg := def
			cfg.VocabSize = len(words)
			cfg.InputSize = int(inputSize)
			cfg.EmbedSize = int(embedSize)
			cfg.HiddenSize = int(hiddenSize)
			cfg.NumLayers = int(numLayers)
			cfg.SeqLength = int(seqLength)
			cfg.BeamSize = int(beamSize)

			m, err := captioner.Create(outDir, captioner.CreateOptions{
				Config: cfg,
				Words:  words,
				Seed:   seed,
				DType:  strings.ToUpper(dtype),
				Force:  force,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: init: %v", err), 1)
			}
			log.Info("model written",
				"dir", outDir,
				"vocab", cfg.VocabSize,
				"params", humanize.Comma(int64(m.ParamCount())),
				"dtype", strings.ToUpper(dtype),
			)
			return nil
		},
	}
}
