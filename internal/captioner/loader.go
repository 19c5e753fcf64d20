// Package captioner loads a caption model directory and serves decode
// requests over it: chunked batches, per-request decoding options, text
// rendering and run statistics.
package captioner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samcharles93/rnncap/internal/decode"
	"github.com/samcharles93/rnncap/internal/lm"
	"github.com/samcharles93/rnncap/internal/logger"
	"github.com/samcharles93/rnncap/internal/vocab"
)

// File names inside a model directory.
const (
	ConfigFile  = "config.yaml"
	VocabFile   = "vocab.json"
	WeightsFile = "model.safetensors"
)

const defaultChunkSize = 32

// Loader opens model directories. Empty path fields default to the standard
// file names inside the directory.
type Loader struct {
	ConfigPath  string
	VocabPath   string
	WeightsPath string

	// Workers bounds concurrent beam search items per chunk.
	Workers int
	// ChunkSize is the number of items decoded between progress reports and
	// cancellation checks.
	ChunkSize int

	Logger logger.Logger
}

func (l Loader) path(dir, override, name string) string {
	if override != "" {
		return override
	}
	return filepath.Join(dir, name)
}

// Load reads config, vocabulary and weights from dir.
func (l Loader) Load(dir string) (*EngineImpl, error) {
	if strings.TrimSpace(dir) == "" && (l.ConfigPath == "" || l.VocabPath == "" || l.WeightsPath == "") {
		return nil, fmt.Errorf("model path is required")
	}
	log := l.Logger
	if log == nil {
		log = logger.Discard()
	}
	start := time.Now()

	cfg, err := lm.LoadConfig(l.path(dir, l.ConfigPath, ConfigFile))
	if err != nil {
		return nil, err
	}
	if _, err := decode.ParseMode(cfg.Mode); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	v, err := vocab.Load(l.path(dir, l.VocabPath, VocabFile))
	if err != nil {
		return nil, err
	}
	if v.Size() != cfg.VocabSize {
		return nil, fmt.Errorf("vocab has %d words but config vocab_size is %d", v.Size(), cfg.VocabSize)
	}
	m, err := lm.Load(cfg, l.path(dir, l.WeightsPath, WeightsFile))
	if err != nil {
		return nil, err
	}

	name := filepath.Base(filepath.Clean(dir))
	if strings.TrimSpace(dir) == "" {
		name = strings.TrimSuffix(filepath.Base(l.WeightsPath), filepath.Ext(l.WeightsPath))
	}
	e := NewEngine(name, m, v)
	e.workers = max(l.Workers, 1)
	if l.ChunkSize > 0 {
		e.chunkSize = l.ChunkSize
	}
	e.log = log.With("model", name)
	e.log.Info("model loaded",
		"vocab", cfg.VocabSize,
		"hidden", cfg.HiddenSize,
		"layers", cfg.NumLayers,
		"params", m.ParamCount(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return e, nil
}
