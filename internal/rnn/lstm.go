// Package rnn implements the stacked LSTM used by the caption decoder and the
// explicit recurrent state it carries between steps.
package rnn

import (
	"fmt"

	"github.com/samcharles93/rnncap/internal/tensor"
)

// Gate blocks inside the 4H rows of Wx, Wh and Bias.
const (
	gateInput = iota
	gateForget
	gateOutput
	gateCell
	numGates
)

// LSTM is one long short-term memory layer.
//
// Wx is [4H x In], Wh is [4H x H] and Bias has 4H entries. The four H-sized
// blocks are, in order, the input, forget and output gates followed by the
// cell candidate:
//
//	i = σ(x·Wxᵢ + h·Whᵢ + bᵢ)    f = σ(…)    o = σ(…)    g = tanh(…)
//	c' = f⊙c + i⊙g
//	h' = o⊙tanh(c')
type LSTM struct {
	InputSize  int
	HiddenSize int

	Wx   tensor.Mat
	Wh   tensor.Mat
	Bias []float32
}

// NewLSTM allocates a zero-weight layer.
func NewLSTM(inputSize, hiddenSize int) *LSTM {
	return &LSTM{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		Wx:         tensor.NewMat(numGates*hiddenSize, inputSize),
		Wh:         tensor.NewMat(numGates*hiddenSize, hiddenSize),
		Bias:       make([]float32, numGates*hiddenSize),
	}
}

// Validate checks the weight shapes against InputSize and HiddenSize.
func (l *LSTM) Validate() error {
	g := numGates * l.HiddenSize
	if l.Wx.R != g || l.Wx.C != l.InputSize {
		return fmt.Errorf("lstm: wx is %dx%d, want %dx%d", l.Wx.R, l.Wx.C, g, l.InputSize)
	}
	if l.Wh.R != g || l.Wh.C != l.HiddenSize {
		return fmt.Errorf("lstm: wh is %dx%d, want %dx%d", l.Wh.R, l.Wh.C, g, l.HiddenSize)
	}
	if len(l.Bias) != g {
		return fmt.Errorf("lstm: bias has %d entries, want %d", len(l.Bias), g)
	}
	return nil
}

// Step advances the layer one timestep for every row of x.
// x is [N x In] and prev holds N rows; the result is a new LayerState.
func (l *LSTM) Step(x *tensor.Mat, prev LayerState) LayerState {
	if x.C != l.InputSize {
		panic("lstm: input width mismatch")
	}
	if prev.Hidden.R != x.R || prev.Cell.R != x.R {
		panic("lstm: state rows do not match input rows")
	}
	h := l.HiddenSize
	gates := tensor.NewMat(x.R, numGates*h)
	tensor.Linear(&gates, x, &l.Wx, l.Bias)
	rec := make([]float32, numGates*h)

	next := LayerState{
		Cell:   tensor.NewMat(x.R, h),
		Hidden: tensor.NewMat(x.R, h),
	}
	for r := 0; r < x.R; r++ {
		gr := gates.Row(r)
		tensor.MatVec(rec, &l.Wh, prev.Hidden.Row(r))
		tensor.Add(gr, rec)

		cPrev := prev.Cell.Row(r)
		cNext := next.Cell.Row(r)
		hNext := next.Hidden.Row(r)
		for j := 0; j < h; j++ {
			i := tensor.Sigmoid(gr[gateInput*h+j])
			f := tensor.Sigmoid(gr[gateForget*h+j])
			o := tensor.Sigmoid(gr[gateOutput*h+j])
			g := tensor.Tanh(gr[gateCell*h+j])
			c := f*cPrev[j] + i*g
			cNext[j] = c
			hNext[j] = o * tensor.Tanh(c)
		}
	}
	return next
}

// Stack is an ordered list of LSTM layers; layer i feeds layer i+1.
type Stack struct {
	Layers []*LSTM
}

// NewStack builds numLayers layers. The first consumes inputSize features and
// every layer has hiddenSize units.
func NewStack(inputSize, hiddenSize, numLayers int) *Stack {
	s := &Stack{Layers: make([]*LSTM, numLayers)}
	in := inputSize
	for i := range s.Layers {
		s.Layers[i] = NewLSTM(in, hiddenSize)
		in = hiddenSize
	}
	return s
}

// Validate checks every layer and the chaining of widths between layers.
func (s *Stack) Validate() error {
	if len(s.Layers) == 0 {
		return fmt.Errorf("lstm stack: no layers")
	}
	for i, l := range s.Layers {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if i > 0 && l.InputSize != s.Layers[i-1].HiddenSize {
			return fmt.Errorf("layer %d: input size %d does not match previous hidden size %d",
				i, l.InputSize, s.Layers[i-1].HiddenSize)
		}
	}
	return nil
}

// HiddenSize returns the width of the top layer.
func (s *Stack) HiddenSize() int {
	return s.Layers[len(s.Layers)-1].HiddenSize
}

// NewState returns a zeroed state with rows hypotheses.
func (s *Stack) NewState(rows int) State {
	st := State{Layers: make([]LayerState, len(s.Layers))}
	for i, l := range s.Layers {
		st.Layers[i] = LayerState{
			Cell:   tensor.NewMat(rows, l.HiddenSize),
			Hidden: tensor.NewMat(rows, l.HiddenSize),
		}
	}
	return st
}

// Step runs x through every layer and returns the new state. The output of
// the stack is the top layer's hidden state, next.Top().Hidden.
func (s *Stack) Step(state State, x tensor.Mat) State {
	if len(state.Layers) != len(s.Layers) {
		panic("lstm stack: state layer count mismatch")
	}
	next := State{Layers: make([]LayerState, len(s.Layers))}
	in := x
	for i, l := range s.Layers {
		next.Layers[i] = l.Step(&in, state.Layers[i])
		in = next.Layers[i].Hidden
	}
	return next
}
