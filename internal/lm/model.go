// Package lm holds the caption language model: the conditioning projection,
// the token embedding table, the LSTM stack and the output projection, joined
// by a single Step function that decoders unroll.
package lm

import (
	"errors"
	"fmt"

	"github.com/samcharles93/rnncap/internal/rnn"
	"github.com/samcharles93/rnncap/internal/tensor"
)

// ErrShapeMismatch is returned when caller supplied inputs disagree with the
// model or with each other.
var ErrShapeMismatch = errors.New("lm: shape mismatch")

// Model is immutable once built; any number of decode calls may share it.
//
// Shapes, with V words, D conditioning features, W embedding width and H
// hidden units:
//
//	ImageProj  [W x D]      ImageBias [W]
//	Embed      [(V+3) x W]  (row 0 is unused)
//	RNN        L layers, first one W -> H
//	OutProj    [(V+1) x H]  OutBias   [V+1]
type Model struct {
	Config Config

	ImageProj tensor.Mat
	ImageBias []float32
	Embed     tensor.Mat
	RNN       *rnn.Stack
	OutProj   tensor.Mat
	OutBias   []float32
}

// New allocates a zero-weight model for cfg.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := cfg.VocabSize
	return &Model{
		Config:    cfg,
		ImageProj: tensor.NewMat(cfg.EmbedSize, cfg.InputSize),
		ImageBias: make([]float32, cfg.EmbedSize),
		Embed:     tensor.NewMat(v+3, cfg.EmbedSize),
		RNN:       rnn.NewStack(cfg.EmbedSize, cfg.HiddenSize, cfg.NumLayers),
		OutProj:   tensor.NewMat(v+1, cfg.HiddenSize),
		OutBias:   make([]float32, v+1),
	}, nil
}

// RandomInit fills every weight with reproducible small random values.
func (m *Model) RandomInit(seed int64) {
	tensor.FillRand(&m.ImageProj, seed)
	tensor.FillRand(&m.Embed, seed+1)
	tensor.FillRand(&m.OutProj, seed+2)
	for i, l := range m.RNN.Layers {
		s := seed + 10 + int64(i)*3
		tensor.FillRand(&l.Wx, s)
		tensor.FillRand(&l.Wh, s+1)
		b := tensor.NewMatFromData(1, len(l.Bias), l.Bias)
		tensor.FillRand(&b, s+2)
	}
}

// Validate checks every weight shape against Config.
func (m *Model) Validate() error {
	c := m.Config
	if err := c.Validate(); err != nil {
		return err
	}
	check := func(name string, mat tensor.Mat, r, cols int) error {
		if mat.R != r || mat.C != cols {
			return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShapeMismatch, name, mat.R, mat.C, r, cols)
		}
		return nil
	}
	if err := check("image_proj.weight", m.ImageProj, c.EmbedSize, c.InputSize); err != nil {
		return err
	}
	if err := check("embed.weight", m.Embed, c.VocabSize+3, c.EmbedSize); err != nil {
		return err
	}
	if err := check("out_proj.weight", m.OutProj, c.VocabSize+1, c.HiddenSize); err != nil {
		return err
	}
	if len(m.ImageBias) != c.EmbedSize || len(m.OutBias) != c.VocabSize+1 {
		return fmt.Errorf("%w: bias length", ErrShapeMismatch)
	}
	if m.RNN == nil || len(m.RNN.Layers) != c.NumLayers {
		return fmt.Errorf("%w: expected %d lstm layers", ErrShapeMismatch, c.NumLayers)
	}
	if err := m.RNN.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if m.RNN.Layers[0].InputSize != c.EmbedSize || m.RNN.HiddenSize() != c.HiddenSize {
		return fmt.Errorf("%w: lstm stack is %d -> %d, want %d -> %d", ErrShapeMismatch,
			m.RNN.Layers[0].InputSize, m.RNN.HiddenSize(), c.EmbedSize, c.HiddenSize)
	}
	return nil
}

func (m *Model) VocabSize() int  { return m.Config.VocabSize }
func (m *Model) HiddenSize() int { return m.Config.HiddenSize }
func (m *Model) SeqLength() int  { return m.Config.SeqLength }

// NewState returns a zero recurrent state for rows hypotheses.
func (m *Model) NewState(rows int) rnn.State {
	return m.RNN.NewState(rows)
}

// CheckFeatures returns ErrShapeMismatch unless features is [N x D].
func (m *Model) CheckFeatures(features *tensor.Mat) error {
	if features.C != m.Config.InputSize {
		return fmt.Errorf("%w: features have %d columns, model expects %d",
			ErrShapeMismatch, features.C, m.Config.InputSize)
	}
	return nil
}

// EncodeConditioning maps [N x D] features to [N x W] first-step inputs:
// ReLU(features·ImageProjᵀ + ImageBias).
func (m *Model) EncodeConditioning(features *tensor.Mat) tensor.Mat {
	out := tensor.NewMat(features.R, m.Config.EmbedSize)
	tensor.Linear(&out, features, &m.ImageProj, m.ImageBias)
	for i := 0; i < out.R; i++ {
		tensor.ReLU(out.Row(i))
	}
	return out
}

// EmbedTokens looks up one embedding row per id. Ids outside 1..V+2 panic.
func (m *Model) EmbedTokens(ids []int) tensor.Mat {
	maxID := m.Config.VocabSize + 2
	for _, id := range ids {
		if id < 1 || id > maxID {
			panic(fmt.Sprintf("lm: token id %d outside 1..%d", id, maxID))
		}
	}
	return tensor.Gather(&m.Embed, ids)
}

// ProjectLogits maps [N x H] hidden rows to [N x (V+1)] unnormalized scores.
// Column i scores token id i+1.
func (m *Model) ProjectLogits(hidden *tensor.Mat) tensor.Mat {
	out := tensor.NewMat(hidden.R, m.Config.VocabSize+1)
	tensor.Linear(&out, hidden, &m.OutProj, m.OutBias)
	return out
}

// Step runs one timestep for every row of input. With persist=false the
// incoming state is ignored and the step starts from zeros. The returned
// state is new; neither state nor the model is modified. The batch size may
// differ between calls as long as state and input agree.
func (m *Model) Step(state rnn.State, input tensor.Mat, persist bool) (tensor.Mat, rnn.State) {
	if !persist || len(state.Layers) == 0 {
		state = m.NewState(input.R)
	}
	next := m.RNN.Step(state, input)
	top := next.Top().Hidden
	return m.ProjectLogits(&top), next
}
