package rnn

import (
	"github.com/samcharles93/rnncap/internal/tensor"
)

// LayerState is the (cell, hidden) pair of one recurrent layer. Both matrices
// have one row per live hypothesis and H columns.
type LayerState struct {
	Cell   tensor.Mat
	Hidden tensor.Mat
}

// State is the recurrent state of a stack of layers, ordered bottom to top.
// A State is a value owned by a single decode call; the Step functions in this
// package never modify a State they receive and always return a new one.
type State struct {
	Layers []LayerState
}

// NewState returns an all-zero state for `layers` layers of width hidden with
// `rows` hypotheses.
func NewState(layers, rows, hidden int) State {
	s := State{Layers: make([]LayerState, layers)}
	for i := range s.Layers {
		s.Layers[i] = LayerState{
			Cell:   tensor.NewMat(rows, hidden),
			Hidden: tensor.NewMat(rows, hidden),
		}
	}
	return s
}

// Rows returns the number of hypotheses carried by the state.
func (s State) Rows() int {
	if len(s.Layers) == 0 {
		return 0
	}
	return s.Layers[0].Hidden.R
}

// Top returns the last layer's state.
func (s State) Top() LayerState {
	return s.Layers[len(s.Layers)-1]
}

// Duplicate rebuilds every layer by gathering rows according to indices:
// row i of the result is row indices[i] of s. Indices may repeat, which is
// how a single seed state becomes K beam copies and how surviving beams pick
// up their parent's state after pruning. An out of range index panics.
func (s State) Duplicate(indices []int) State {
	out := State{Layers: make([]LayerState, len(s.Layers))}
	for i, l := range s.Layers {
		out.Layers[i] = LayerState{
			Cell:   tensor.Gather(&l.Cell, indices),
			Hidden: tensor.Gather(&l.Hidden, indices),
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{Layers: make([]LayerState, len(s.Layers))}
	for i, l := range s.Layers {
		out.Layers[i] = LayerState{
			Cell:   l.Cell.Clone(),
			Hidden: l.Hidden.Clone(),
		}
	}
	return out
}
