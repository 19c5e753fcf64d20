package rnn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/rnncap/internal/tensor"
)

func randomStack(t *testing.T, in, hidden, layers int) *Stack {
	t.Helper()
	s := NewStack(in, hidden, layers)
	for i, l := range s.Layers {
		tensor.FillRandScale(&l.Wx, int64(10+i), 1)
		tensor.FillRandScale(&l.Wh, int64(20+i), 1)
		b := tensor.NewMatFromData(1, len(l.Bias), l.Bias)
		tensor.FillRandScale(&b, int64(30+i), 1)
	}
	require.NoError(t, s.Validate())
	return s
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func TestLSTMStepMatchesReference(t *testing.T) {
	t.Parallel()
	l := NewLSTM(2, 1)
	// Rows are i, f, o, g for a single hidden unit.
	l.Wx = tensor.NewMatFromRows([][]float32{{0.5, -0.5}, {1, 0}, {0, 1}, {0.3, 0.2}})
	l.Wh = tensor.NewMatFromRows([][]float32{{0.1}, {0.2}, {0.3}, {0.4}})
	l.Bias = []float32{0.01, 0.02, 0.03, 0.04}
	require.NoError(t, l.Validate())

	x := tensor.NewMatFromRows([][]float32{{1, 2}})
	prev := LayerState{
		Cell:   tensor.NewMatFromRows([][]float32{{0.5}}),
		Hidden: tensor.NewMatFromRows([][]float32{{-0.25}}),
	}
	next := l.Step(&x, prev)

	h := -0.25
	i := sigmoid(0.5*1 - 0.5*2 + 0.1*h + 0.01)
	f := sigmoid(1*1 + 0*2 + 0.2*h + 0.02)
	o := sigmoid(0*1 + 1*2 + 0.3*h + 0.03)
	g := math.Tanh(0.3*1 + 0.2*2 + 0.4*h + 0.04)
	c := f*0.5 + i*g
	wantH := o * math.Tanh(c)

	assert.InDelta(t, c, next.Cell.Row(0)[0], 1e-5)
	assert.InDelta(t, wantH, next.Hidden.Row(0)[0], 1e-5)
	// The previous state is left untouched.
	assert.Equal(t, float32(0.5), prev.Cell.Row(0)[0])
}

func TestStackRowsAreIndependent(t *testing.T) {
	t.Parallel()
	s := randomStack(t, 3, 4, 2)

	rows := [][]float32{{1, 0, -1}, {0.5, 0.5, 0.5}, {-2, 1, 0}}
	batch := tensor.NewMatFromRows(rows)
	batched := s.Step(s.NewState(3), batch)

	for r, row := range rows {
		single := s.Step(s.NewState(1), tensor.NewMatFromRows([][]float32{row}))
		for li := range s.Layers {
			assert.Equal(t, single.Layers[li].Hidden.Row(0), batched.Layers[li].Hidden.Row(r),
				"layer %d row %d hidden", li, r)
			assert.Equal(t, single.Layers[li].Cell.Row(0), batched.Layers[li].Cell.Row(r),
				"layer %d row %d cell", li, r)
		}
	}
}

func TestDuplicateGathersEveryLayer(t *testing.T) {
	t.Parallel()
	s := randomStack(t, 2, 3, 3)
	x := tensor.NewMatFromRows([][]float32{{1, 2}, {3, 4}})
	st := s.Step(s.NewState(2), x)

	dup := st.Duplicate([]int{1, 1, 0})
	require.Equal(t, 3, dup.Rows())
	for li := range st.Layers {
		assert.Equal(t, st.Layers[li].Hidden.Row(1), dup.Layers[li].Hidden.Row(0))
		assert.Equal(t, st.Layers[li].Hidden.Row(1), dup.Layers[li].Hidden.Row(1))
		assert.Equal(t, st.Layers[li].Cell.Row(0), dup.Layers[li].Cell.Row(2))
	}

	// Duplicated rows are copies, not views.
	dup.Layers[0].Hidden.Row(0)[0] = 42
	assert.NotEqual(t, float32(42), st.Layers[0].Hidden.Row(1)[0])
}

func TestDuplicateThenStepMatchesStepThenDuplicate(t *testing.T) {
	t.Parallel()
	s := randomStack(t, 2, 3, 2)
	st := s.Step(s.NewState(1), tensor.NewMatFromRows([][]float32{{0.3, -0.7}}))

	x := tensor.NewMatFromRows([][]float32{{1, 1}, {1, 1}})
	a := s.Step(st.Duplicate([]int{0, 0}), x)
	b := s.Step(st, tensor.NewMatFromRows([][]float32{{1, 1}})).Duplicate([]int{0, 0})
	assert.Equal(t, b.Top().Hidden.Data, a.Top().Hidden.Data)
}

func TestDuplicateOutOfRangePanics(t *testing.T) {
	t.Parallel()
	st := NewState(2, 2, 3)
	assert.Panics(t, func() { st.Duplicate([]int{0, 2}) })
}

func TestStackValidateCatchesMismatch(t *testing.T) {
	t.Parallel()
	s := NewStack(4, 3, 2)
	s.Layers[1] = NewLSTM(5, 3)
	assert.Error(t, s.Validate())

	s = NewStack(4, 3, 1)
	s.Layers[0].Bias = s.Layers[0].Bias[:2]
	assert.Error(t, s.Validate())
}
