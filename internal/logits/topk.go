package logits

// Argmax returns the index of the maximum value in the slice. Ties resolve to
// the lowest index. If the slice is empty it panics.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// TopK returns the indices of the k largest values of x, largest first.
// Selection is stable: among equal values the lower index comes first, which
// keeps beam search reproducible. k is clamped to len(x).
func TopK(x []float64, k int) []int {
	k = min(k, len(x))
	if k <= 0 {
		return nil
	}
	idx := make([]int, 0, k+1)
	val := make([]float64, 0, k+1)
	for i, v := range x {
		pos := len(val)
		for pos > 0 && val[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		val = append(val, 0)
		copy(idx[pos+1:], idx[pos:])
		copy(val[pos+1:], val[pos:])
		idx[pos] = i
		val[pos] = v
		if len(val) > k {
			idx = idx[:k]
			val = val[:k]
		}
	}
	return idx
}
