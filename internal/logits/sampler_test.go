package logits

import (
	"slices"
	"testing"
)

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical results when sampling the same logits vector.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 20; i++ {
		a := s1.Sample(logs)
		b := s2.Sample(logs)
		if a != b {
			t.Fatalf("draw %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

// TestSamplerGreedy tests that a non-positive temperature returns the index
// of the maximum logit.
func TestSamplerGreedy(t *testing.T) {
	t.Parallel()
	logs := []float32{-1, 5, 3, 7, 2}
	s := NewSampler(SamplerConfig{Seed: 99, Temperature: 0})
	for i := 0; i < 5; i++ {
		if idx := s.Sample(logs); idx != 3 {
			t.Fatalf("draw %d: expected greedy index 3, got %d", i, idx)
		}
	}
}

// TestSamplerTopP ensures that setting TopP less than 1 restricts sampling to a
// prefix of candidates.  In this contrived example, the cumulative
// probability after the first element is >TopP, so only the first index
// should ever be returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()
	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Sample(logs); idx != 0 {
			t.Fatalf("top‑p sampling returned unexpected index %d", idx)
		}
	}
}

// TestSamplerFullDistributionCoversSupport draws from the plain softmax and
// checks that every token with meaningful mass shows up.
func TestSamplerFullDistributionCoversSupport(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 1})
	seen := make(map[int]bool)
	for i := 0; i < 300; i++ {
		idx := s.Sample(logs)
		if idx < 0 || idx >= len(logs) {
			t.Fatalf("sample %d out of range", idx)
		}
		seen[idx] = true
	}
	if len(seen) != len(logs) {
		t.Fatalf("expected all %d indices to be drawn, saw %v", len(logs), seen)
	}
}

func TestTopKStableOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		x    []float64
		k    int
		want []int
	}{
		{"distinct", []float64{0.1, 0.9, 0.5, 0.7}, 2, []int{1, 3}},
		{"ties keep index order", []float64{1, 2, 2, 1, 2}, 3, []int{1, 2, 4}},
		{"k larger than input", []float64{3, 1}, 5, []int{0, 1}},
		{"zero k", []float64{3, 1}, 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := TopK(tc.x, tc.k)
			if !slices.Equal(got, tc.want) {
				t.Fatalf("TopK(%v, %d) = %v, want %v", tc.x, tc.k, got, tc.want)
			}
		})
	}
}

func TestArgmax(t *testing.T) {
	t.Parallel()
	if got := Argmax([]float32{2, 9, 9, 1}); got != 1 {
		t.Fatalf("Argmax = %d, want 1", got)
	}
}
