package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rnncap/internal/captioner"
	"github.com/samcharles93/rnncap/internal/logger"
)

func hiddenCmd() *cli.Command {
	var (
		inputPath     string
		sequencesPath string
		jsonOut       bool
	)

	return &cli.Command{
		Name:  "hidden",
		Usage: "Extract the decoder hidden state at the end of each caption",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "JSON file with an array of feature rows (- for stdin)",
				Value:       "-",
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "sequences",
				Usage:       "JSON file with token id rows to feed instead of decoding",
				Destination: &sequencesPath,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "write results as JSON",
				Destination: &jsonOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, LoadConfig())

			dir, err := resolveModelDir(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			var req captioner.HiddenRequest
			req.Features, err = readFeatures(inputPath, os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if sequencesPath != "" {
				req.Sequences, err = readSequences(sequencesPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			engine, err := captioner.Loader{Logger: log}.Load(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = engine.Close() }()

			res, err := engine.Hidden(ctx, &req)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: hidden: %v", err), 1)
			}
			if jsonOut {
				return writeHiddenJSON(os.Stdout, res)
			}
			return writeHiddenText(os.Stdout, res)
		},
	}
}

func writeHiddenJSON(w io.Writer, res *captioner.HiddenResult) error {
	type item struct {
		Index  int       `json:"index"`
		Text   string    `json:"text"`
		Tokens []int     `json:"tokens"`
		Hidden []float32 `json:"hidden"`
	}
	out := make([]item, len(res.Items))
	for i, it := range res.Items {
		out[i] = item{Index: it.Index, Text: it.Text, Tokens: it.Tokens, Hidden: it.Hidden}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeHiddenText(w io.Writer, res *captioner.HiddenResult) error {
	for _, it := range res.Items {
		vals := make([]string, len(it.Hidden))
		for i, v := range it.Hidden {
			vals[i] = strconv.FormatFloat(float64(v), 'g', 6, 32)
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", it.Index, it.Text, strings.Join(vals, " ")); err != nil {
			return err
		}
	}
	return nil
}
