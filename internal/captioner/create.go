package captioner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samcharles93/rnncap/internal/lm"
	"github.com/samcharles93/rnncap/internal/vocab"
)

// CreateOptions describes a randomly initialised model directory.
type CreateOptions struct {
	Config lm.Config
	Words  []string
	Seed   int64
	// DType is the weight encoding, F32 (default) or F16.
	DType string
	// Force overwrites existing files.
	Force bool
}

// Create writes config.yaml, vocab.json and model.safetensors into dir. The
// weights are random, so captions are only useful for plumbing checks.
func Create(dir string, opts CreateOptions) (*lm.Model, error) {
	if len(opts.Words) != opts.Config.VocabSize {
		return nil, fmt.Errorf("%d words given for vocab_size %d", len(opts.Words), opts.Config.VocabSize)
	}
	v, err := vocab.New(opts.Words)
	if err != nil {
		return nil, err
	}
	m, err := lm.New(opts.Config)
	if err != nil {
		return nil, err
	}
	m.RandomInit(opts.Seed)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	paths := []string{
		filepath.Join(dir, ConfigFile),
		filepath.Join(dir, VocabFile),
		filepath.Join(dir, WeightsFile),
	}
	if !opts.Force {
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return nil, fmt.Errorf("%s already exists", p)
			}
		}
	}
	dtype := opts.DType
	if dtype == "" {
		dtype = "F32"
	}
	if err := lm.SaveConfig(paths[0], opts.Config); err != nil {
		return nil, err
	}
	if err := v.Save(paths[1]); err != nil {
		return nil, err
	}
	if err := m.SaveAs(paths[2], dtype); err != nil {
		return nil, err
	}
	return m, nil
}

// PlaceholderWords returns n distinct words w1..wn.
func PlaceholderWords(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%d", i+1)
	}
	return out
}
