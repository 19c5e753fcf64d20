package decode

import (
	"fmt"

	"github.com/samcharles93/rnncap/internal/rnn"
	"github.com/samcharles93/rnncap/internal/tensor"
)

// bigramModel is a scripted Step function. Token embeddings are one-hot rows
// of width V+3 and the single layer's hidden state evolves as h' = h/2 + x,
// so the state after any step can be computed by hand. Logits depend only on
// the last fed id (0 for the conditioning step): next[id] if present, else
// fallback. Column 0 of the conditioning features acts as a marker; while the
// marker survives in the hidden state the END column is suppressed.
type bigramModel struct {
	v        int
	next     map[int][]float32
	fallback []float32
}

func newBigram(v int, fallback []float32) *bigramModel {
	if len(fallback) != v+1 {
		panic("fallback must have V+1 entries")
	}
	return &bigramModel{v: v, next: map[int][]float32{}, fallback: fallback}
}

// favor returns V+1 logits that are zero except col, which gets score.
func (m *bigramModel) favor(col int, score float32) []float32 {
	out := make([]float32, m.v+1)
	out[col] = score
	return out
}

func (m *bigramModel) width() int { return m.v + 3 }

func (m *bigramModel) VocabSize() int  { return m.v }
func (m *bigramModel) HiddenSize() int { return m.width() }

func (m *bigramModel) CheckFeatures(f *tensor.Mat) error {
	if f.C != m.width() {
		return fmt.Errorf("features have %d columns, want %d", f.C, m.width())
	}
	return nil
}

func (m *bigramModel) NewState(rows int) rnn.State {
	return rnn.NewState(1, rows, m.width())
}

func (m *bigramModel) EncodeConditioning(f *tensor.Mat) tensor.Mat {
	return f.Clone()
}

func (m *bigramModel) EmbedTokens(ids []int) tensor.Mat {
	out := tensor.NewMat(len(ids), m.width())
	for i, id := range ids {
		if id < 1 || id > m.v+2 {
			panic(fmt.Sprintf("token id %d out of range", id))
		}
		out.Row(i)[id] = 1
	}
	return out
}

func (m *bigramModel) Step(state rnn.State, input tensor.Mat, persist bool) (tensor.Mat, rnn.State) {
	if !persist {
		state = m.NewState(input.R)
	}
	prev := state.Top()
	next := rnn.NewState(1, input.R, m.width())
	h := next.Layers[0].Hidden
	c := next.Layers[0].Cell
	lg := tensor.NewMat(input.R, m.v+1)
	for r := 0; r < input.R; r++ {
		x := input.Row(r)
		hr := h.Row(r)
		for j := range hr {
			hr[j] = prev.Hidden.Row(r)[j]/2 + x[j]
		}
		c.Row(r)[0] = prev.Cell.Row(r)[0] + 1

		last := 0
		for id := 1; id < len(x); id++ {
			if x[id] > 0 {
				last = id
			}
		}
		src, ok := m.next[last]
		if !ok {
			src = m.fallback
		}
		copy(lg.Row(r), src)
		if hr[0] > 0 {
			lg.Row(r)[m.v] = -100
		}
	}
	return lg, next
}

// features returns n conditioning rows; rows listed in marked carry the
// END-suppressing marker.
func (m *bigramModel) features(n int, marked ...int) tensor.Mat {
	f := tensor.NewMat(n, m.width())
	for _, r := range marked {
		f.Row(r)[0] = 1
	}
	return f
}
