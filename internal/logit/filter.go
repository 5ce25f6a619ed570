package logit

import (
	"math"
	"sort"
)

var negInf = float32(math.Inf(-1))

// topK suppresses every logit strictly below the k-th largest value,
// setting it to -Inf so it can never be sampled. The k-th largest value
// acts as a threshold rather than a hard cutoff, so tokens tied with it
// all survive and more than k can remain.
type topK struct {
	k int
}

func (tk *topK) Process(logits []float32, _ []int32) {
	if tk.k <= 0 || tk.k >= len(logits) {
		return
	}
	vals := make([]float32, len(logits))
	copy(vals, logits)
	sort.Slice(vals, func(a, b int) bool { return vals[a] > vals[b] })
	threshold := vals[tk.k-1]
	for i, l := range logits {
		if l < threshold {
			logits[i] = negInf
		}
	}
}

// minP discards any token whose probability is below p times the
// probability of the most likely token, computed in softmax space. This
// is a scale-invariant alternative to top-p that adapts to how peaked or
// flat the distribution is.
type minP struct {
	p float32
}

func (mp *minP) Process(logits []float32, _ []int32) {
	if mp.p <= 0 {
		return
	}
	maxLogit := negInf
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	if maxLogit == negInf {
		return
	}
	threshold := mp.p
	for i, l := range logits {
		if l == negInf {
			continue
		}
		// exp(l - maxLogit) is the probability of token i relative to
		// the max, without needing the full softmax normalizer.
		relProb := float32(math.Exp(float64(l - maxLogit)))
		if relProb < threshold {
			logits[i] = negInf
		}
	}
}
