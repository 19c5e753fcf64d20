package captioner

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidInput marks errors caused by the caller's request rather than
// the model.
var ErrInvalidInput = errors.New("captioner: invalid input")

// ProgressFunc is called after each chunk with the number of finished items.
type ProgressFunc func(done, total int)

type Engine interface {
	Caption(ctx context.Context, req *Request) (*Result, error)
	Hidden(ctx context.Context, req *HiddenRequest) (*HiddenResult, error)
	Info() ModelInfo
	Close() error
}

// Request asks for one caption per feature row. Zero values fall back to the
// model's config.yaml defaults.
type Request struct {
	Features [][]float32

	Mode             string
	BeamSize         int
	Seed             int64
	Temperature      float32
	TopK             int
	TopP             float32
	RankByLikelihood bool
	// NBest keeps every ranked beam in the result, not just the best.
	NBest bool

	Progress ProgressFunc
}

type Result struct {
	Captions []Caption
	Stats    Stats
}

type Caption struct {
	Index  int
	Text   string
	Tokens []int
	Beams  []BeamText
}

type BeamText struct {
	Text           string
	Tokens         []int
	LogProb        float64
	NormNegLogProb float64
	Completed      bool
}

// HiddenRequest asks for the decoder's hidden state at the end of each
// caption. When Sequences is set those captions are fed instead of decoding.
type HiddenRequest struct {
	Features  [][]float32
	Sequences [][]int
}

type HiddenResult struct {
	Items []HiddenItem
	Stats Stats
}

type HiddenItem struct {
	Index  int
	Text   string
	Tokens []int
	Hidden []float32
}

type Stats struct {
	Items    int
	Steps    int64
	Duration time.Duration
	// ItemsPerSec is zero when Duration is zero.
	ItemsPerSec float64
}

// ModelInfo summarizes a loaded model.
type ModelInfo struct {
	Name       string `json:"name"`
	VocabSize  int    `json:"vocab_size"`
	InputSize  int    `json:"input_size"`
	EmbedSize  int    `json:"embed_size"`
	HiddenSize int    `json:"hidden_size"`
	NumLayers  int    `json:"num_layers"`
	SeqLength  int    `json:"seq_length"`
	BeamSize   int    `json:"beam_size"`
	Mode       string `json:"mode"`
	Params     int    `json:"params"`
}
