package decode

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/rnncap/internal/logits"
	"github.com/samcharles93/rnncap/internal/tensor"
)

// finishedScore replaces the running score of a beam that emitted END so it
// never wins a later pruning round while still holding its frontier slot.
const finishedScore = -1e30

// Beam is one ranked hypothesis.
type Beam struct {
	// Tokens is the prefix including the end token when Completed.
	Tokens  []int
	LogProb float64
	// NormNegLogProb is -LogProb / Length.
	NormNegLogProb float64
	// Length counts the tokens before END (or all tokens of an unfinished
	// beam), and is at least 1.
	Length    int
	Completed bool
}

type activeBeam struct {
	tokens  []int
	score   float64 // ranking score, finishedScore once done
	logProb float64
	done    bool
}

// BeamSearch decodes every item of [N x D] features with beam search and
// returns the best sequence per item padded to SeqLength, plus the ranked
// beams. The decoder's configured mode is ignored.
func (d *Decoder) BeamSearch(features *tensor.Mat) ([][]int, [][]Beam, error) {
	if err := d.model.CheckFeatures(features); err != nil {
		return nil, nil, err
	}
	var c stepCounter
	seqs, beams := d.beamSearch(features, &c)
	return seqs, beams, nil
}

// beamWidth caps K at the number of logit columns so every beam can always
// offer K distinct candidates.
func (d *Decoder) beamWidth() int {
	return min(d.opts.BeamSize, d.model.VocabSize()+1)
}

func (d *Decoder) beamSearch(features *tensor.Mat, c *stepCounter) ([][]int, [][]Beam) {
	n := features.R
	cond := d.model.EncodeConditioning(features)
	seqs := make([][]int, n)
	beams := make([][]Beam, n)

	run := func(i int) {
		item := tensor.Gather(&cond, []int{i})
		seqs[i], beams[i] = d.beamItem(i, item, c)
	}

	workers := min(d.opts.Workers, n)
	if workers <= 1 {
		for i := 0; i < n; i++ {
			run(i)
		}
		return seqs, beams
	}
	// Each goroutine writes only its own item's result slots.
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return seqs, beams
}

// beamItem runs beam search for one item whose conditioning embedding is the
// single row of cond.
func (d *Decoder) beamItem(item int, cond tensor.Mat, c *stepCounter) ([]int, []Beam) {
	k := d.beamWidth()
	end := d.endToken()
	seqLen := d.opts.SeqLength
	width := d.model.VocabSize() + 1
	info := func(t int) StepInfo { return StepInfo{Phase: PhaseBeam, Item: item, T: t} }

	// Seed with batch size 1: conditioning, then START.
	state := d.model.NewState(1)
	_, state = d.step(c, info(0), state, cond)
	lg, state := d.step(c, info(1), state, d.model.EmbedTokens([]int{end}))

	lp := make([]float64, width)
	tensor.LogSoftmax(lp, lg.Row(0))

	frontier := make([]activeBeam, k)
	var completed []Beam
	for b, col := range logits.TopK(lp, k) {
		frontier[b] = activeBeam{
			tokens:  []int{col + 1},
			score:   lp[col],
			logProb: lp[col],
		}
		if col+1 == end {
			completed = append(completed, d.finish(&frontier[b]))
		}
	}
	state = state.Duplicate(make([]int, k))

	pool := make([]float64, k*k)
	candCol := make([]int, k*k)
	candLP := make([]float64, k*k)
	parents := make([]int, k)

	for t := 2; t <= seqLen; t++ {
		if allDone(frontier) {
			break
		}

		ids := make([]int, k)
		for b := range frontier {
			ids[b] = frontier[b].tokens[len(frontier[b].tokens)-1]
		}
		lg, state = d.step(c, info(t), state, d.model.EmbedTokens(ids))

		for b := range frontier {
			tensor.LogSoftmax(lp, lg.Row(b))
			if frontier[b].done {
				// A finished beam adds nothing further.
				clear(lp)
			}
			for j, col := range logits.TopK(lp, k) {
				p := b*k + j
				candCol[p] = col
				candLP[p] = lp[col]
				pool[p] = frontier[b].score + lp[col]
			}
		}

		next := make([]activeBeam, k)
		for nb, p := range logits.TopK(pool, k) {
			parent := p / k
			parents[nb] = parent
			src := frontier[parent]
			tokens := make([]int, len(src.tokens)+1)
			copy(tokens, src.tokens)
			tokens[len(src.tokens)] = candCol[p] + 1
			next[nb] = activeBeam{
				tokens:  tokens,
				score:   src.score + candLP[p],
				logProb: src.logProb + candLP[p],
			}
			if candCol[p]+1 == end {
				completed = append(completed, d.finish(&next[nb]))
			}
		}
		frontier = next
		state = state.Duplicate(parents)
	}

	ranked := d.rank(completed, frontier, k)
	best := make([]int, seqLen)
	n := copy(best, ranked[0].Tokens)
	for i := n; i < seqLen; i++ {
		best[i] = d.nullToken()
	}
	return best, ranked
}

// finish records b as completed and neutralizes its running score.
func (d *Decoder) finish(b *activeBeam) Beam {
	length := max(len(b.tokens)-1, 1)
	out := Beam{
		Tokens:         append([]int(nil), b.tokens...),
		LogProb:        b.logProb,
		NormNegLogProb: -b.logProb / float64(length),
		Length:         length,
		Completed:      true,
	}
	b.done = true
	b.score = finishedScore
	return out
}

// rank sorts the completed beams and keeps the best k. When fewer than k
// beams completed, the best unfinished beams fill the remaining slots.
func (d *Decoder) rank(completed []Beam, frontier []activeBeam, k int) []Beam {
	d.sortBeams(completed)
	if len(completed) >= k {
		return completed[:k]
	}
	var open []Beam
	for _, b := range frontier {
		if b.done {
			continue
		}
		length := max(len(b.tokens), 1)
		open = append(open, Beam{
			Tokens:         append([]int(nil), b.tokens...),
			LogProb:        b.logProb,
			NormNegLogProb: -b.logProb / float64(length),
			Length:         length,
		})
	}
	d.sortBeams(open)
	out := append(completed, open...)
	return out[:min(k, len(out))]
}

func (d *Decoder) sortBeams(beams []Beam) {
	if d.opts.RankByLikelihood {
		sort.SliceStable(beams, func(i, j int) bool { return beams[i].LogProb > beams[j].LogProb })
		return
	}
	sort.SliceStable(beams, func(i, j int) bool { return beams[i].NormNegLogProb < beams[j].NormNegLogProb })
}

func allDone(frontier []activeBeam) bool {
	for _, b := range frontier {
		if !b.done {
			return false
		}
	}
	return true
}
