package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rnncap/internal/captioner"
	"github.com/samcharles93/rnncap/internal/lm"
	"github.com/samcharles93/rnncap/internal/safetensors"
	"github.com/samcharles93/rnncap/internal/vocab"
)

func inspectCmd() *cli.Command {
	var (
		dir          string
		showVocab    bool
		vocabLimit   int64
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a model directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to a model directory",
				Destination: &dir,
				Required:    true,
			},
			&cli.BoolFlag{Name: "vocab", Usage: "list vocab entries", Destination: &showVocab},
			&cli.Int64Flag{Name: "vocab-limit", Usage: "limit vocab listing (0 = no limit)", Value: 50, Destination: &vocabLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			cfg, err := lm.LoadConfig(filepath.Join(dir, captioner.ConfigFile))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			fmt.Printf("Model: %s\n", dir)
			fmt.Printf("  vocab_size:  %d\n", cfg.VocabSize)
			fmt.Printf("  input_size:  %d\n", cfg.InputSize)
			fmt.Printf("  embed_size:  %d\n", cfg.EmbedSize)
			fmt.Printf("  hidden_size: %d\n", cfg.HiddenSize)
			fmt.Printf("  num_layers:  %d\n", cfg.NumLayers)
			fmt.Printf("  seq_length:  %d\n", cfg.SeqLength)
			if cfg.Mode != "" {
				fmt.Printf("  mode:        %s\n", cfg.Mode)
			}
			if cfg.BeamSize > 0 {
				fmt.Printf("  beam_size:   %d\n", cfg.BeamSize)
			}

			weights := filepath.Join(dir, captioner.WeightsFile)
			st, err := os.Stat(weights)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat weights: %v", err), 1)
			}
			f, err := safetensors.Open(weights)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open weights: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			fmt.Printf("\nWeights: %s (%s)\n", captioner.WeightsFile, humanize.Bytes(uint64(st.Size())))
			for k, v := range f.Metadata {
				fmt.Printf("  %s = %s\n", k, v)
			}
			fmt.Printf("\n%-20s %-5s %-12s %10s %10s\n", "NAME", "DTYPE", "SHAPE", "PARAMS", "SIZE")
			var total int64
			for _, name := range f.Names() {
				info, _ := f.Tensor(name)
				n := int64(1)
				for _, d := range info.Shape {
					n *= int64(d)
				}
				total += n
				if tensorFilter != "" && !strings.Contains(name, tensorFilter) {
					continue
				}
				fmt.Printf("%-20s %-5s %-12s %10s %10s\n",
					name, info.DType, formatShape(info.Shape),
					humanize.Comma(n), humanize.Bytes(uint64(info.Size())))
			}
			fmt.Printf("\nTotal parameters: %s\n", humanize.Comma(total))

			v, err := vocab.Load(filepath.Join(dir, captioner.VocabFile))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			fmt.Printf("\nVocab: %d words (START/END=%d, NULL=%d)\n", v.Size(), v.EndToken(), v.NullToken())
			if v.Size() != cfg.VocabSize {
				fmt.Printf("  warning: config vocab_size is %d\n", cfg.VocabSize)
			}
			if showVocab {
				limit := v.Size()
				if vocabLimit > 0 && int(vocabLimit) < limit {
					limit = int(vocabLimit)
				}
				for id := 1; id <= limit; id++ {
					w, _ := v.Word(id)
					fmt.Printf("  %6d  %s\n", id, w)
				}
			}
			return nil
		},
	}
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
