package lm

import (
	"fmt"

	"github.com/samcharles93/rnncap/internal/tensor"
)

// Forward runs the model over ground-truth sequences with teacher forcing.
// The inputs are the conditioning embedding, then START, then gt[:, 0..T-1]
// with 0 replaced by the padding id. It returns T+2 logit matrices of shape
// [N x (V+1)], one per input position.
func (m *Model) Forward(features *tensor.Mat, gt [][]int) ([]tensor.Mat, error) {
	if err := m.CheckFeatures(features); err != nil {
		return nil, err
	}
	if features.R != len(gt) {
		return nil, fmt.Errorf("%w: %d feature rows but %d sequences", ErrShapeMismatch, features.R, len(gt))
	}
	t, err := seqLen(gt)
	if err != nil {
		return nil, err
	}
	n := features.R
	v := m.Config.VocabSize

	out := make([]tensor.Mat, 0, t+2)
	logits, state := m.Step(m.NewState(n), m.EncodeConditioning(features), true)
	out = append(out, logits)

	ids := make([]int, n)
	for i := range ids {
		ids[i] = v + 1
	}
	logits, state = m.Step(state, m.EmbedTokens(ids), true)
	out = append(out, logits)

	for j := 0; j < t; j++ {
		for i := range ids {
			id := gt[i][j]
			if id == 0 {
				id = v + 2
			}
			ids[i] = id
		}
		logits, state = m.Step(state, m.EmbedTokens(ids), true)
		out = append(out, logits)
	}
	return out, nil
}

// Target builds the [N x (T+2)] targets aligned with Forward's outputs.
// Position 0 (the conditioning step) has no target. Positions 1..T copy gt
// and the first 0 at or after position 1 becomes END (V+1), so every
// sequence is trained to stop.
func Target(gt [][]int, vocabSize int) [][]int {
	out := make([][]int, len(gt))
	for i, seq := range gt {
		row := make([]int, len(seq)+2)
		copy(row[1:], seq)
		for j := 1; j < len(row); j++ {
			if row[j] == 0 {
				row[j] = vocabSize + 1
				break
			}
		}
		out[i] = row
	}
	return out
}

// SequenceLoss is the mean negative log-likelihood of target under logits,
// averaged over every position whose target is non-zero.
func SequenceLoss(logits []tensor.Mat, target [][]int) (float64, error) {
	if len(target) == 0 || len(logits) == 0 {
		return 0, fmt.Errorf("%w: empty input", ErrShapeMismatch)
	}
	var (
		sum   float64
		count int
		lp    []float64
	)
	for i, row := range target {
		if len(row) != len(logits) {
			return 0, fmt.Errorf("%w: target %d has %d positions, logits have %d", ErrShapeMismatch, i, len(row), len(logits))
		}
		for j, id := range row {
			if id == 0 {
				continue
			}
			l := &logits[j]
			if i >= l.R {
				return 0, fmt.Errorf("%w: logits at position %d have %d rows", ErrShapeMismatch, j, l.R)
			}
			if id > l.C {
				return 0, fmt.Errorf("%w: target id %d outside logit width %d", ErrShapeMismatch, id, l.C)
			}
			if cap(lp) < l.C {
				lp = make([]float64, l.C)
			}
			lp = lp[:l.C]
			tensor.LogSoftmax(lp, l.Row(i))
			sum -= lp[id-1]
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

func seqLen(gt [][]int) (int, error) {
	if len(gt) == 0 {
		return 0, fmt.Errorf("%w: no sequences", ErrShapeMismatch)
	}
	t := len(gt[0])
	for i, seq := range gt {
		if len(seq) != t {
			return 0, fmt.Errorf("%w: sequence %d has length %d, want %d", ErrShapeMismatch, i, len(seq), t)
		}
	}
	return t, nil
}
