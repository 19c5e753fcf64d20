package tensor

import (
	"math"
	"testing"
)

func TestSoftmaxSumsToOne(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		x    []float32
	}{
		{"simple", []float32{1, 2, 3}},
		{"large", []float32{100, 200, 300}},
		{"negative", []float32{-1, 0, 1}},
		{"uniform", []float32{5, 5, 5, 5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x := append([]float32(nil), tc.x...)
			Softmax(x)
			var sum float64
			for _, p := range x {
				if p < 0 {
					t.Fatalf("negative probability %v", p)
				}
				sum += float64(p)
			}
			if math.Abs(sum-1) > 1e-5 {
				t.Fatalf("softmax sums to %v", sum)
			}
		})
	}
}

func TestLogSoftmaxMatchesSoftmax(t *testing.T) {
	t.Parallel()
	x := []float32{0.5, -2, 3, 1}
	lp := make([]float64, len(x))
	LogSoftmax(lp, x)

	p := append([]float32(nil), x...)
	Softmax(p)
	for i := range x {
		if math.Abs(math.Exp(lp[i])-float64(p[i])) > 1e-6 {
			t.Fatalf("index %d: exp(logsoftmax)=%v softmax=%v", i, math.Exp(lp[i]), p[i])
		}
	}
}

func TestLogSoftmaxLargeLogitsStayFinite(t *testing.T) {
	t.Parallel()
	x := []float32{1000, 0, -1000}
	lp := make([]float64, len(x))
	LogSoftmax(lp, x)
	for i, v := range lp {
		if math.IsNaN(v) || math.IsInf(v, 1) {
			t.Fatalf("index %d not finite: %v", i, v)
		}
	}
	if lp[0] != 0 {
		t.Fatalf("dominant logit should have log-prob 0, got %v", lp[0])
	}
}

func TestReLUAndIsZero(t *testing.T) {
	t.Parallel()
	x := []float32{-1, 0, 2}
	ReLU(x)
	if x[0] != 0 || x[2] != 2 {
		t.Fatalf("unexpected relu output %v", x)
	}
	if IsZero(x) {
		t.Fatal("IsZero reported true for non-zero slice")
	}
	if !IsZero(make([]float32, 4)) {
		t.Fatal("IsZero reported false for zero slice")
	}
}

func TestGatherRepeatsRows(t *testing.T) {
	t.Parallel()
	src := NewMatFromRows([][]float32{{1, 1}, {2, 2}, {3, 3}})
	out := Gather(&src, []int{2, 0, 2})
	want := []float32{3, 1, 3}
	for i, v := range want {
		if out.Row(i)[0] != v || out.Row(i)[1] != v {
			t.Fatalf("row %d = %v, want %v", i, out.Row(i), v)
		}
	}
	// Gather copies: mutating the result leaves src untouched.
	out.Row(0)[0] = 99
	if src.Row(2)[0] != 3 {
		t.Fatal("Gather aliased the source matrix")
	}
}

func TestGatherOutOfRangePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	src := NewMat(2, 2)
	_ = Gather(&src, []int{2})
}
