package logits

import (
	"math"
	"math/rand"
)

// SamplerConfig configures the behaviour of a Sampler.
//
// A Temperature <= 0 selects greedy (argmax) decoding. TopK <= 0 keeps the
// whole vocabulary and TopP outside (0,1) disables nucleus truncation, so the
// zero value with Temperature=1 draws from the plain softmax distribution.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
	TopK        int
	TopP        float32
}

// Sampler picks one index per logits row. It is not safe for concurrent use;
// each decode call owns its sampler.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	topIdx []int
	topVal []float32
	prob   []float64
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Sample draws a single index from the provided logits vector:
//
//  1. With a greedy sampler the argmax is returned.
//  2. Otherwise the logits are scaled by the inverse temperature and the
//     indices of the top k values are selected (all of them when TopK <= 0).
//  3. A softmax over the shortlisted values is computed.
//  4. If TopP<1, the shortlist is truncated when the cumulative probability
//     reaches TopP.
//  5. A random value is drawn from [0,1) and used to select an index from the
//     truncated distribution.
func (s *Sampler) Sample(logits []float32) int {
	if s.greedy {
		return Argmax(logits)
	}

	invTemp := float32(1.0) / s.cfg.Temperature
	if s.cfg.TopK <= 0 && s.cfg.TopP >= 1 {
		return s.sampleFull(logits, invTemp)
	}
	k := len(logits)
	if s.cfg.TopK > 0 {
		k = min(s.cfg.TopK, len(logits))
	}

	topIdx, topVal := s.topK(logits, k, invTemp)
	if len(topVal) == 0 {
		return 0
	}

	maxv := topVal[0]
	if cap(s.prob) < len(topVal) {
		s.prob = make([]float64, len(topVal))
	}
	prob := s.prob[:len(topVal)]
	var sum float64
	for i := range topVal {
		e := math.Exp(float64(topVal[i] - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		return topIdx[0]
	}
	invSum := 1.0 / sum
	for i := range prob {
		prob[i] *= invSum
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	if cut < len(prob) {
		var kept float64
		for i := 0; i < cut; i++ {
			kept += prob[i]
		}
		r *= kept
	}
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return topIdx[i]
		}
	}

	return topIdx[cut-1]
}

// sampleFull draws from softmax(logits*invTemp) over the whole vocabulary
// without building a shortlist.
func (s *Sampler) sampleFull(logits []float32, invTemp float32) int {
	if len(logits) == 0 {
		return 0
	}
	if cap(s.prob) < len(logits) {
		s.prob = make([]float64, len(logits))
	}
	prob := s.prob[:len(logits)]
	maxv := logits[Argmax(logits)] * invTemp
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l*invTemp - maxv))
		prob[i] = e
		sum += e
	}
	r := s.rng.Float64() * sum
	var c float64
	for i, p := range prob {
		c += p
		if r < c {
			return i
		}
	}
	return len(prob) - 1
}

// topK returns the indices and values of the k largest elements in logits, scaled by invTemp.
// The returned slices are ordered from largest to smallest by value; equal
// values keep ascending index order.
// This is an O(V*K) algorithm suitable for small K.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if k <= 0 {
		return nil, nil
	}
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, l := range logits {
		v := l * invTemp

		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)

		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}
