// Package decode unrolls the caption model's Step function into token
// sequences: greedy and sampled decoding, beam search, and extraction of the
// hidden state at which each caption ends.
//
// Token ids follow the vocabulary layout: 1..V are words, V+1 is both the
// start and the end token, V+2 is padding. Logit column i scores id i+1.
package decode

import (
	"sync/atomic"

	"github.com/samcharles93/rnncap/internal/logits"
	"github.com/samcharles93/rnncap/internal/rnn"
	"github.com/samcharles93/rnncap/internal/tensor"
)

// Model is the Step function and the projections around it.
type Model interface {
	VocabSize() int
	HiddenSize() int
	CheckFeatures(features *tensor.Mat) error
	NewState(rows int) rnn.State
	EncodeConditioning(features *tensor.Mat) tensor.Mat
	EmbedTokens(ids []int) tensor.Mat
	Step(state rnn.State, input tensor.Mat, persist bool) (tensor.Mat, rnn.State)
}

// Result is the output of Decoder.Decode.
type Result struct {
	// Sequences is [N][T]. Greedy and sampled sequences keep whatever follows
	// the first end token; beam sequences are padded with the padding id.
	Sequences [][]int
	// Beams holds, per item, up to K ranked beams. Only set in beam mode.
	Beams [][]Beam
	// Steps counts Step function invocations.
	Steps int64
}

// Decoder is safe for concurrent use; every call owns its recurrent state.
type Decoder struct {
	model Model
	opts  Options
}

// New validates opts and returns a decoder for m.
func New(m Model, opts Options) (*Decoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{model: m, opts: opts}, nil
}

func (d *Decoder) Options() Options { return d.opts }

func (d *Decoder) endToken() int  { return d.model.VocabSize() + 1 }
func (d *Decoder) nullToken() int { return d.model.VocabSize() + 2 }

// Decode runs the configured mode over [N x D] features.
func (d *Decoder) Decode(features *tensor.Mat) (*Result, error) {
	if err := d.model.CheckFeatures(features); err != nil {
		return nil, err
	}
	var (
		res   Result
		steps stepCounter
	)
	switch d.opts.Mode {
	case ModeBeam:
		res.Sequences, res.Beams = d.beamSearch(features, &steps)
	case ModeSample:
		samplers := d.samplers(features.R)
		res.Sequences = d.unroll(features, PhaseSample, &steps, func(row int, lg []float32) int {
			return samplers[row].Sample(lg)
		}, nil)
	default:
		res.Sequences = d.unroll(features, PhaseGreedy, &steps, argmax, nil)
	}
	res.Steps = steps.n.Load()
	return &res, nil
}

// samplers returns one sampler per batch row. Row i draws from a stream
// seeded with Seed+i, so a row's tokens do not depend on the rest of the batch.
func (d *Decoder) samplers(n int) []*logits.Sampler {
	out := make([]*logits.Sampler, n)
	for i := range out {
		out[i] = logits.NewSampler(logits.SamplerConfig{
			Seed:        d.opts.Seed + int64(i),
			Temperature: d.opts.Temperature,
			TopK:        d.opts.TopK,
			TopP:        d.opts.TopP,
		})
	}
	return out
}

func argmax(_ int, lg []float32) int { return logits.Argmax(lg) }

type stepCounter struct {
	n atomic.Int64
}

// step runs the model and reports the call to the counter and OnStep hook.
func (d *Decoder) step(c *stepCounter, info StepInfo, state rnn.State, input tensor.Mat) (tensor.Mat, rnn.State) {
	out, next := d.model.Step(state, input, true)
	c.n.Add(1)
	if d.opts.OnStep != nil {
		info.Rows = input.R
		d.opts.OnStep(info)
	}
	return out, next
}

// unroll feeds the conditioning embedding, then START, then each chosen
// token, for SeqLength steps over the whole batch. choose picks a token
// column from the logits of one batch row. onStep, if set, sees each step's chosen ids and
// the resulting state.
func (d *Decoder) unroll(features *tensor.Mat, phase Phase, c *stepCounter,
	choose func(row int, lg []float32) int, onStep func(t int, ids []int, state rnn.State)) [][]int {

	n := features.R
	seqLen := d.opts.SeqLength
	out := make([][]int, n)
	for i := range out {
		out[i] = make([]int, seqLen)
	}

	state := d.model.NewState(n)
	_, state = d.step(c, StepInfo{Phase: phase, Item: -1, T: 0}, state, d.model.EncodeConditioning(features))

	ids := make([]int, n)
	for i := range ids {
		ids[i] = d.endToken()
	}
	for t := 1; t <= seqLen; t++ {
		var lg tensor.Mat
		lg, state = d.step(c, StepInfo{Phase: phase, Item: -1, T: t}, state, d.model.EmbedTokens(ids))
		for i := 0; i < n; i++ {
			ids[i] = choose(i, lg.Row(i)) + 1
			out[i][t-1] = ids[i]
		}
		if onStep != nil {
			onStep(t, ids, state)
		}
	}
	return out
}
