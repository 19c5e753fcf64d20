package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/rnncap/internal/captioner"
	"github.com/samcharles93/rnncap/internal/logger"
)

func captionCmd() *cli.Command {
	var (
		inputPath  string
		jsonOut    bool
		noProgress bool
		chunkSize  int64
		dec        decodeFlags
	)

	flags := append(commonModelFlags(), dec.flags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "JSON file with an array of feature rows (- for stdin)",
			Value:       "-",
			Destination: &inputPath,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "write results as JSON",
			Destination: &jsonOut,
		},
		&cli.BoolFlag{
			Name:        "no-progress",
			Usage:       "disable the progress bar",
			Destination: &noProgress,
		},
		&cli.Int64Flag{
			Name:        "chunk-size",
			Usage:       "items decoded between progress updates",
			Value:       32,
			Destination: &chunkSize,
		},
	)

	return &cli.Command{
		Name:  "caption",
		Usage: "Generate captions for feature vectors",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDecodeConfig(cmd, LoadConfig(), &dec)

			req, err := dec.request()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dir, err := resolveModelDir(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			req.Features, err = readFeatures(inputPath, os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			engine, err := captioner.Loader{
				Workers:   int(workers),
				ChunkSize: int(chunkSize),
				Logger:    log,
			}.Load(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = engine.Close() }()

			var bar *progressbar.ProgressBar
			if !noProgress && stderrIsTTY() {
				bar = newProgressBar(len(req.Features), "captioning")
				req.Progress = func(done, total int) { _ = bar.Set(done) }
			}
			res, err := engine.Caption(ctx, &req)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: caption: %v", err), 1)
			}

			if jsonOut {
				err = writeCaptionsJSON(os.Stdout, res)
			} else {
				err = writeCaptionsText(os.Stdout, res)
			}
			if err != nil {
				return err
			}
			log.Info("captions written",
				"items", res.Stats.Items,
				"steps", res.Stats.Steps,
				"elapsed", res.Stats.Duration.Round(time.Millisecond),
				"items_per_sec", fmt.Sprintf("%.1f", res.Stats.ItemsPerSec),
			)
			return nil
		},
	}
}

// request converts the flags into an engine request. Zero values keep the
// model defaults.
func (d *decodeFlags) request() (captioner.Request, error) {
	req := captioner.Request{
		Mode:        d.mode,
		BeamSize:    int(d.beamSize),
		Seed:        d.seed,
		Temperature: float32(d.temperature),
		TopK:        int(d.topK),
		TopP:        float32(d.topP),
		NBest:       d.nbest,
	}
	switch strings.ToLower(strings.TrimSpace(d.rankBy)) {
	case "", "normalized":
	case "likelihood":
		req.RankByLikelihood = true
	default:
		return req, fmt.Errorf("--rank-by must be normalized or likelihood, got %q", d.rankBy)
	}
	return req, nil
}

func newProgressBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionClearOnFinish(),
	)
}

type captionJSON struct {
	Index  int        `json:"index"`
	Text   string     `json:"text"`
	Tokens []int      `json:"tokens"`
	Beams  []beamJSON `json:"beams,omitempty"`
}

type beamJSON struct {
	Text           string  `json:"text"`
	LogProb        float64 `json:"logprob"`
	NormNegLogProb float64 `json:"norm_neg_logprob"`
	Completed      bool    `json:"completed"`
}

func writeCaptionsJSON(w io.Writer, res *captioner.Result) error {
	out := make([]captionJSON, len(res.Captions))
	for i, c := range res.Captions {
		out[i] = captionJSON{Index: c.Index, Text: c.Text, Tokens: c.Tokens}
		for _, b := range c.Beams {
			out[i].Beams = append(out[i].Beams, beamJSON{
				Text:           b.Text,
				LogProb:        b.LogProb,
				NormNegLogProb: b.NormNegLogProb,
				Completed:      b.Completed,
			})
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeCaptionsText(w io.Writer, res *captioner.Result) error {
	for _, c := range res.Captions {
		if _, err := fmt.Fprintf(w, "%d\t%s\n", c.Index, c.Text); err != nil {
			return err
		}
		if len(c.Beams) < 2 {
			continue
		}
		for rank, b := range c.Beams {
			mark := ""
			if !b.Completed {
				mark = " (unfinished)"
			}
			if _, err := fmt.Fprintf(w, "  #%d %8.4f %8.4f  %s%s\n", rank+1, b.NormNegLogProb, b.LogProb, b.Text, mark); err != nil {
				return err
			}
		}
	}
	return nil
}
