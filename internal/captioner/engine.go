package captioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/rnncap/internal/decode"
	"github.com/samcharles93/rnncap/internal/lm"
	"github.com/samcharles93/rnncap/internal/logger"
	"github.com/samcharles93/rnncap/internal/tensor"
	"github.com/samcharles93/rnncap/internal/vocab"
)

// EngineImpl serves requests over one immutable model. It is safe for
// concurrent use.
type EngineImpl struct {
	name      string
	model     *lm.Model
	vocab     *vocab.Vocab
	workers   int
	chunkSize int
	log       logger.Logger
}

// NewEngine wraps an in-memory model.
func NewEngine(name string, m *lm.Model, v *vocab.Vocab) *EngineImpl {
	return &EngineImpl{
		name:      name,
		model:     m,
		vocab:     v,
		workers:   1,
		chunkSize: defaultChunkSize,
		log:       logger.Discard(),
	}
}

func (e *EngineImpl) Close() error { return nil }

func (e *EngineImpl) Vocab() *vocab.Vocab { return e.vocab }

func (e *EngineImpl) Info() ModelInfo {
	c := e.model.Config
	mode := c.Mode
	if mode == "" {
		mode = string(decode.ModeGreedy)
	}
	return ModelInfo{
		Name:       e.name,
		VocabSize:  c.VocabSize,
		InputSize:  c.InputSize,
		EmbedSize:  c.EmbedSize,
		HiddenSize: c.HiddenSize,
		NumLayers:  c.NumLayers,
		SeqLength:  c.SeqLength,
		BeamSize:   max(c.BeamSize, 1),
		Mode:       mode,
		Params:     e.model.ParamCount(),
	}
}

// options merges request overrides over the model defaults.
func (e *EngineImpl) options(req *Request) (decode.Options, error) {
	c := e.model.Config
	modeName := req.Mode
	if modeName == "" {
		modeName = c.Mode
	}
	mode, err := decode.ParseMode(modeName)
	if err != nil {
		return decode.Options{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	opts := decode.Options{
		Mode:             mode,
		SeqLength:        c.SeqLength,
		BeamSize:         c.BeamSize,
		Seed:             req.Seed,
		Temperature:      c.Temperature,
		TopK:             req.TopK,
		TopP:             req.TopP,
		RankByLikelihood: req.RankByLikelihood,
		Workers:          e.workers,
	}
	if req.BeamSize > 0 {
		opts.BeamSize = req.BeamSize
	}
	if req.Temperature > 0 {
		opts.Temperature = req.Temperature
	}
	if req.BeamSize < 0 || req.Temperature < 0 {
		return decode.Options{}, fmt.Errorf("%w: beam size and temperature must not be negative", ErrInvalidInput)
	}
	if err := opts.Validate(); err != nil {
		return decode.Options{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return opts, nil
}

// featureMat packs rows into a matrix after checking their width.
func (e *EngineImpl) featureMat(rows [][]float32) (tensor.Mat, error) {
	if len(rows) == 0 {
		return tensor.Mat{}, fmt.Errorf("%w: features must not be empty", ErrInvalidInput)
	}
	d := e.model.Config.InputSize
	for i, r := range rows {
		if len(r) != d {
			return tensor.Mat{}, fmt.Errorf("%w: feature row %d has %d values, model expects %d", ErrInvalidInput, i, len(r), d)
		}
	}
	return tensor.NewMatFromRows(rows), nil
}

// Caption decodes the request in chunks, checking ctx between chunks.
func (e *EngineImpl) Caption(ctx context.Context, req *Request) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	opts, err := e.options(req)
	if err != nil {
		return nil, err
	}
	features, err := e.featureMat(req.Features)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	total := features.R
	res := &Result{Captions: make([]Caption, 0, total)}
	for lo := 0; lo < total; lo += e.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+e.chunkSize, total)
		chunk := tensor.Gather(&features, rowRange(lo, hi))
		// Item i samples with Seed+i whatever chunk it lands in.
		chunkOpts := opts
		chunkOpts.Seed = opts.Seed + int64(lo)
		dec, err := decode.New(e.model, chunkOpts)
		if err != nil {
			return nil, err
		}
		out, err := safeDecode(dec, &chunk)
		if err != nil {
			return nil, err
		}
		for i, seq := range out.Sequences {
			c := Caption{
				Index:  lo + i,
				Text:   e.vocab.Decode(seq),
				Tokens: seq,
			}
			if out.Beams != nil {
				c.Beams = e.beamTexts(out.Beams[i], req.NBest)
			}
			res.Captions = append(res.Captions, c)
		}
		res.Stats.Steps += out.Steps
		if req.Progress != nil {
			req.Progress(hi, total)
		}
	}
	res.Stats = finishStats(res.Stats, total, time.Since(start))
	e.log.Debug("captions decoded",
		"mode", opts.Mode,
		"items", total,
		"steps", res.Stats.Steps,
		"elapsed", res.Stats.Duration.Round(time.Microsecond),
	)
	return res, nil
}

func (e *EngineImpl) beamTexts(beams []decode.Beam, all bool) []BeamText {
	if !all && len(beams) > 1 {
		beams = beams[:1]
	}
	out := make([]BeamText, len(beams))
	for i, b := range beams {
		out[i] = BeamText{
			Text:           e.vocab.Decode(b.Tokens),
			Tokens:         b.Tokens,
			LogProb:        b.LogProb,
			NormNegLogProb: b.NormNegLogProb,
			Completed:      b.Completed,
		}
	}
	return out
}

// Hidden returns the hidden state at the end of each caption.
func (e *EngineImpl) Hidden(ctx context.Context, req *HiddenRequest) (*HiddenResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features, err := e.featureMat(req.Features)
	if err != nil {
		return nil, err
	}
	var steps int64
	dec, err := decode.New(e.model, decode.Options{
		SeqLength: e.model.Config.SeqLength,
		OnStep:    func(decode.StepInfo) { steps++ },
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		hidden tensor.Mat
		seqs   [][]int
	)
	if req.Sequences != nil {
		if err := e.checkSequences(req.Sequences); err != nil {
			return nil, err
		}
		seqs = req.Sequences
		hidden, err = safeForced(dec, &features, seqs)
	} else {
		hidden, seqs, err = safeHidden(dec, &features)
	}
	if err != nil {
		if errors.Is(err, decode.ErrInvalidOptions) || errors.Is(err, lm.ErrShapeMismatch) {
			err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, err
	}

	res := &HiddenResult{Items: make([]HiddenItem, features.R)}
	for i := range res.Items {
		res.Items[i] = HiddenItem{
			Index:  i,
			Text:   e.vocab.Decode(seqs[i]),
			Tokens: seqs[i],
			Hidden: append([]float32(nil), hidden.Row(i)...),
		}
	}
	res.Stats = finishStats(Stats{Steps: steps}, features.R, time.Since(start))
	return res, nil
}

// checkSequences rejects token ids the vocabulary does not define. 0 is
// accepted as padding.
func (e *EngineImpl) checkSequences(seqs [][]int) error {
	for i, s := range seqs {
		for _, id := range s {
			if id != 0 && !e.vocab.Valid(id) {
				return fmt.Errorf("%w: sequence %d has token id %d outside 1..%d", ErrInvalidInput, i, id, e.vocab.NullToken())
			}
		}
	}
	return nil
}

func finishStats(s Stats, items int, elapsed time.Duration) Stats {
	s.Items = items
	s.Duration = elapsed
	if elapsed > 0 {
		s.ItemsPerSec = float64(items) / elapsed.Seconds()
	}
	return s
}

func rowRange(lo, hi int) []int {
	out := make([]int, hi-lo)
	for i := range out {
		out[i] = lo + i
	}
	return out
}

func safeDecode(d *decode.Decoder, features *tensor.Mat) (res *decode.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return d.Decode(features)
}

func safeHidden(d *decode.Decoder, features *tensor.Mat) (h tensor.Mat, seqs [][]int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ExtractHidden: %v", rec)
		}
	}()
	return d.ExtractHidden(features)
}

func safeForced(d *decode.Decoder, features *tensor.Mat, seqs [][]int) (h tensor.Mat, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ExtractHiddenForced: %v", rec)
		}
	}()
	return d.ExtractHiddenForced(features, seqs)
}
