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
	"github.com/samcharles93/rnncap/internal/logger"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List available model directories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "path to a directory containing model directories",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, LoadConfig())

			dir := strings.TrimSpace(modelsPath)
			if dir == "" {
				dir = strings.TrimSpace(os.Getenv(envModelsDir))
			}
			if dir == "" {
				return cli.Exit("error: --models-path is required unless "+envModelsDir+" is set", 1)
			}

			models, err := discoverModelDirs(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, m := range models {
				name := filepath.Base(m)
				size := ""
				if info, err := os.Stat(filepath.Join(m, captioner.WeightsFile)); err == nil {
					size = humanize.Bytes(uint64(info.Size()))
				}
				cfg, err := lm.LoadConfig(filepath.Join(m, captioner.ConfigFile))
				if err != nil {
					fmt.Printf("  %-24s %10s  (invalid config: %v)\n", name, size, err)
					continue
				}
				fmt.Printf("  %-24s %10s  vocab=%d hidden=%d layers=%d T=%d\n",
					name, size, cfg.VocabSize, cfg.HiddenSize, cfg.NumLayers, cfg.SeqLength)
			}
			return nil
		},
	}
}
