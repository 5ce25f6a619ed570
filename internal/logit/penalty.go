// Package logit implements the fixed processor chain that turns a raw
// model logit row into a sampled token: repetition/presence/frequency
// penalties, top-k and min-p filtering, temperature scaling, and finally
// sampling with an optional seed for determinism.
package logit

import "github.com/allaspectsdev/mlxd/internal/model"

// Processor mutates a logit row in place given the tokens generated so
// far in this completion (not including the prompt).
type Processor interface {
	Process(logits []float32, generated []model.Token)
}

// chainCapacity bounds the fixed processor array Pipeline holds. Five
// slots cover every processor this package ships; raising it is cheap if
// a future processor is added.
const chainCapacity = 5

// Pipeline runs a fixed, ordered set of processors over a logit row. The
// array (not a slice) keeps it stack-allocatable per generation step.
type Pipeline struct {
	stages [chainCapacity]Processor
	n      int
}

// NewPipeline builds a Pipeline from params, wiring in only the
// processors whose penalty/threshold is actually active so a request
// with no penalties pays nothing beyond the loop bounds check.
func NewPipeline(p model.Params) *Pipeline {
	pl := &Pipeline{}
	if p.RepetitionPenalty != 0 && p.RepetitionPenalty != 1.0 {
		pl.push(&repetitionPenalty{penalty: p.RepetitionPenalty, context: p.RepetitionContext})
	}
	if p.PresencePenalty != 0 || p.FrequencyPenalty != 0 {
		pl.push(&presenceFrequencyPenalty{presence: p.PresencePenalty, frequency: p.FrequencyPenalty})
	}
	if p.TopK > 0 {
		pl.push(&topK{k: p.TopK})
	}
	if p.MinP > 0 {
		pl.push(&minP{p: p.MinP})
	}
	return pl
}

func (pl *Pipeline) push(p Processor) {
	if pl.n >= len(pl.stages) {
		panic("logit: processor chain capacity exceeded")
	}
	pl.stages[pl.n] = p
	pl.n++
}

// Process runs every wired stage, in order, over logits.
func (pl *Pipeline) Process(logits []float32, generated []model.Token) {
	for i := 0; i < pl.n; i++ {
		pl.stages[i].Process(logits, generated)
	}
}

// repetitionPenalty divides (for positive logits) or multiplies (for
// negative logits) the logit of any token seen in the last `context`
// generated tokens, per the standard CTRL-style repetition penalty.
type repetitionPenalty struct {
	penalty float32
	context int // 0 means unbounded: consider all generated tokens
}

func (r *repetitionPenalty) Process(logits []float32, generated []model.Token) {
	if r.penalty == 0 || r.penalty == 1.0 {
		return
	}
	window := generated
	if r.context > 0 && len(window) > r.context {
		window = window[len(window)-r.context:]
	}
	seen := make(map[model.Token]struct{}, len(window))
	for _, t := range window {
		if int(t) < 0 || int(t) >= len(logits) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if logits[t] > 0 {
			logits[t] /= r.penalty
		} else {
			logits[t] *= r.penalty
		}
	}
}

// presenceFrequencyPenalty applies OpenAI-style additive penalties:
// presence subtracts a flat amount for any token seen at all, frequency
// subtracts an amount proportional to how many times it has been seen.
type presenceFrequencyPenalty struct {
	presence  float32
	frequency float32
}

func (p *presenceFrequencyPenalty) Process(logits []float32, generated []model.Token) {
	counts := make(map[model.Token]int, len(generated))
	for _, t := range generated {
		counts[t]++
	}
	for t, c := range counts {
		if int(t) < 0 || int(t) >= len(logits) {
			continue
		}
		logits[t] -= p.presence
		logits[t] -= p.frequency * float32(c)
	}
}
