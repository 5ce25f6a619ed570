package logit

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/allaspectsdev/mlxd/internal/model"
)

// Sampler draws the next token from a (possibly already penalized and
// filtered) logit row. A zero-value Sampler is not usable; construct one
// with NewSampler.
type Sampler struct {
	temperature float32
	topP        float32
	rng         *rand.Rand
	greedy      bool
}

// NewSampler builds a Sampler from request params. Temperature 0 selects
// greedy (argmax) decoding regardless of TopP. A seed makes sampling
// reproducible across otherwise-identical requests.
func NewSampler(p model.Params) *Sampler {
	s := &Sampler{
		temperature: p.Temperature,
		topP:        p.TopP,
		greedy:      p.Temperature == 0,
	}
	if p.HasSeed {
		s.rng = rand.New(rand.NewPCG(uint64(p.Seed), uint64(p.Seed>>32)^0x9e3779b97f4a7c15))
	} else {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Sample computes log-probabilities from logits (temperature scaling +
// log-softmax) into a separate buffer, leaving logits unchanged, and
// returns the chosen token along with its own logprob.
func (s *Sampler) Sample(logits []float32) (model.Token, float32) {
	if s.greedy {
		best, bestLogit := 0, negInf
		for i, l := range logits {
			if l > bestLogit {
				best, bestLogit = i, l
			}
		}
		logprobs := toLogSoftmax(logits, 1.0)
		return model.Token(best), logprobs[best]
	}

	scaled := make([]float32, len(logits))
	for i, l := range logits {
		scaled[i] = l / s.temperature
	}
	if s.topP > 0 && s.topP < 1.0 {
		applyTopP(scaled, s.topP)
	}
	logprobs := toLogSoftmax(scaled, 1.0)

	tok := s.categorical(logprobs)
	return tok, logprobs[tok]
}

// TopLogprobs returns the n highest-logprob tokens from a log-softmax row
// already produced by Sample's internal scaling, recomputed at
// temperature 1 so reported logprobs reflect the model's own
// distribution rather than the sampling temperature, matching how
// OpenAI's API reports them.
func TopLogprobs(rawLogits []float32, n int) []model.RankedLogprob {
	if n <= 0 {
		return nil
	}
	logprobs := toLogSoftmax(rawLogits, 1.0)
	idx := make([]int, len(logprobs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return logprobs[idx[a]] > logprobs[idx[b]] })
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]model.RankedLogprob, 0, n)
	for _, ix := range idx[:n] {
		if logprobs[ix] == negInf {
			// Suppressed tokens are not alternates; the list is sorted
			// descending, so everything past this point is -Inf too.
			break
		}
		out = append(out, model.RankedLogprob{Token: model.Token(ix), Logprob: logprobs[ix]})
	}
	return out
}

// categorical draws a token index from a log-probability distribution
// using the Gumbel-max trick, which needs only one uniform draw per
// logit and no separate normalization pass.
func (s *Sampler) categorical(logprobs []float32) model.Token {
	best, bestScore := 0, negInf
	for i, lp := range logprobs {
		if lp == negInf {
			continue
		}
		u := s.rng.Float64()
		// -log(-log(u)) is a standard Gumbel(0,1) sample.
		g := float32(-math.Log(-math.Log(u)))
		score := lp + g
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return model.Token(best)
}

// applyTopP (nucleus sampling) keeps the smallest prefix of tokens, sorted
// by descending probability, whose cumulative probability mass reaches p,
// masking the rest to -Inf.
func applyTopP(logits []float32, p float32) {
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return logits[idx[a]] > logits[idx[b]] })

	probs := softmax(logits)
	var cum float32
	cutoff := len(idx)
	for i, ix := range idx {
		cum += probs[ix]
		if cum >= p {
			cutoff = i + 1
			break
		}
	}
	for _, ix := range idx[cutoff:] {
		logits[ix] = negInf
	}
}

func softmax(logits []float32) []float32 {
	maxLogit := negInf
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, l := range logits {
		if l == negInf {
			continue
		}
		e := float32(math.Exp(float64(l - maxLogit)))
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// toLogSoftmax computes log-softmax(logits/temperature) without ever
// materializing the unnormalized probabilities, avoiding underflow for
// very negative logits.
func toLogSoftmax(logits []float32, temperature float32) []float32 {
	maxLogit := negInf
	for _, l := range logits {
		v := l
		if temperature != 1.0 {
			v /= temperature
		}
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sumExp float64
	scaled := make([]float32, len(logits))
	for i, l := range logits {
		v := l
		if temperature != 1.0 {
			v /= temperature
		}
		scaled[i] = v
		if v == negInf {
			continue
		}
		sumExp += math.Exp(float64(v - maxLogit))
	}
	logSum := float32(math.Log(sumExp)) + maxLogit
	out := make([]float32, len(logits))
	for i, v := range scaled {
		if v == negInf {
			out[i] = negInf
			continue
		}
		out[i] = v - logSum
	}
	return out
}
