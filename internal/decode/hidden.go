package decode

import (
	"fmt"

	"github.com/samcharles93/rnncap/internal/lm"
	"github.com/samcharles93/rnncap/internal/rnn"
	"github.com/samcharles93/rnncap/internal/tensor"
)

// ExtractHidden decodes greedily and returns, per item, the top layer's
// hidden row from the step that first emitted END, along with the decoded
// sequences. Items that never emit END within SeqLength keep a zero row.
func (d *Decoder) ExtractHidden(features *tensor.Mat) (tensor.Mat, [][]int, error) {
	if err := d.model.CheckFeatures(features); err != nil {
		return tensor.Mat{}, nil, err
	}
	var c stepCounter
	capture := newHiddenCapture(features.R, d.model.HiddenSize(), d.endToken())
	seqs := d.unroll(features, PhaseHidden, &c, argmax, func(_ int, ids []int, state rnn.State) {
		capture.observe(ids, state)
	})
	return capture.out, seqs, nil
}

// ExtractHiddenForced feeds the given [N x T] sequences instead of the
// decoder's own choices and captures the hidden row at the step whose target
// is the first END of each sequence. Id 0 is read as padding.
func (d *Decoder) ExtractHiddenForced(features *tensor.Mat, seqs [][]int) (tensor.Mat, error) {
	if err := d.model.CheckFeatures(features); err != nil {
		return tensor.Mat{}, err
	}
	n := features.R
	if len(seqs) != n {
		return tensor.Mat{}, fmt.Errorf("%w: %d feature rows but %d sequences", lm.ErrShapeMismatch, n, len(seqs))
	}
	seqLen := 0
	maxID := d.nullToken()
	for i, s := range seqs {
		if i == 0 {
			seqLen = len(s)
		}
		if len(s) != seqLen {
			return tensor.Mat{}, fmt.Errorf("%w: sequence %d has length %d, want %d", lm.ErrShapeMismatch, i, len(s), seqLen)
		}
		for _, id := range s {
			if id < 0 || id > maxID {
				return tensor.Mat{}, fmt.Errorf("%w: sequence %d has token id %d outside 0..%d", lm.ErrShapeMismatch, i, id, maxID)
			}
		}
	}

	var c stepCounter
	end := d.endToken()
	capture := newHiddenCapture(n, d.model.HiddenSize(), end)

	state := d.model.NewState(n)
	_, state = d.step(&c, StepInfo{Phase: PhaseHidden, Item: -1, T: 0}, state, d.model.EncodeConditioning(features))

	ids := make([]int, n)
	targets := make([]int, n)
	for i := range ids {
		ids[i] = end
	}
	for t := 1; t <= seqLen && !capture.complete(); t++ {
		_, state = d.step(&c, StepInfo{Phase: PhaseHidden, Item: -1, T: t}, state, d.model.EmbedTokens(ids))
		for i := range seqs {
			targets[i] = seqs[i][t-1]
		}
		capture.observe(targets, state)
		for i, id := range targets {
			if id == 0 {
				id = d.nullToken()
			}
			ids[i] = id
		}
	}
	return capture.out, nil
}

// hiddenCapture keeps one hidden row per item, taken once, at the first step
// where that item's emitted id is END.
type hiddenCapture struct {
	out      tensor.Mat
	captured []bool
	left     int
	end      int
}

func newHiddenCapture(n, hidden, end int) *hiddenCapture {
	return &hiddenCapture{
		out:      tensor.NewMat(n, hidden),
		captured: make([]bool, n),
		left:     n,
		end:      end,
	}
}

func (h *hiddenCapture) observe(ids []int, state rnn.State) {
	top := state.Top().Hidden
	for i, id := range ids {
		if id != h.end || h.captured[i] {
			continue
		}
		copy(h.out.Row(i), top.Row(i))
		h.captured[i] = true
		h.left--
	}
}

func (h *hiddenCapture) complete() bool { return h.left == 0 }
