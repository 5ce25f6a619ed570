package logit

import (
	"math"
	"testing"

	"github.com/allaspectsdev/mlxd/internal/model"
)

func TestTopKMasksBelowThreshold(t *testing.T) {
	logits := []float32{1, 5, 3, 0, 4}
	tk := &topK{k: 2}
	tk.Process(logits, nil)

	want := map[int]bool{1: true, 4: true} // indices of the two highest values
	for i, l := range logits {
		if want[i] {
			if l == negInf {
				t.Errorf("index %d expected to survive top-k, got -Inf", i)
			}
			continue
		}
		if l != negInf {
			t.Errorf("index %d expected masked by top-k, got %v", i, l)
		}
	}
}

func TestTopKTiesAtBoundaryAllSurvive(t *testing.T) {
	// Three tokens tied at the k=2 boundary value: all three survive,
	// only the strictly-lower logit is masked.
	logits := []float32{5, 3, 3, 3, 1}
	tk := &topK{k: 2}
	tk.Process(logits, nil)

	for i := 0; i < 4; i++ {
		if logits[i] == negInf {
			t.Errorf("index %d tied at the top-k boundary, expected to survive", i)
		}
	}
	if logits[4] != negInf {
		t.Errorf("index 4 below the boundary, expected masked, got %v", logits[4])
	}
}

func TestTopKNoopWhenKCoversAll(t *testing.T) {
	logits := []float32{1, 2, 3}
	tk := &topK{k: 10}
	tk.Process(logits, nil)
	for i, l := range logits {
		if l == negInf {
			t.Errorf("index %d unexpectedly masked", i)
		}
	}
}

func TestMinPMasksLowRelativeProb(t *testing.T) {
	// relative prob of a logit `d` below the max is exp(-d); pick a minP
	// threshold that keeps only logits within ~0 of the max.
	logits := []float32{10, 9.99, 0}
	mp := &minP{p: 0.5}
	mp.Process(logits, nil)

	if logits[0] == negInf {
		t.Errorf("max logit must never be masked")
	}
	if logits[2] != negInf {
		t.Errorf("far-below-max logit expected masked, got %v", logits[2])
	}
}

func TestRepetitionPenaltyPenalizesSeenTokens(t *testing.T) {
	logits := []float32{2, -2, 1}
	rp := &repetitionPenalty{penalty: 2.0}
	rp.Process(logits, []model.Token{0, 1})

	if logits[0] != 1 {
		t.Errorf("positive logit expected divided by penalty: got %v want 1", logits[0])
	}
	if logits[1] != -4 {
		t.Errorf("negative logit expected multiplied by penalty: got %v want -4", logits[1])
	}
	if logits[2] != 1 {
		t.Errorf("unseen token must be untouched: got %v want 1", logits[2])
	}
}

func TestRepetitionPenaltyRespectsContextWindow(t *testing.T) {
	logits := []float32{2, 2}
	rp := &repetitionPenalty{penalty: 2.0, context: 1}
	// token 0 falls outside the 1-token window, token 1 is within it.
	rp.Process(logits, []model.Token{0, 1})

	if logits[0] != 2 {
		t.Errorf("token outside repetition context must be untouched: got %v", logits[0])
	}
	if logits[1] != 1 {
		t.Errorf("token inside repetition context expected penalized: got %v", logits[1])
	}
}

func TestPresenceFrequencyPenalty(t *testing.T) {
	logits := []float32{0, 0, 0}
	pf := &presenceFrequencyPenalty{presence: 1, frequency: 0.5}
	pf.Process(logits, []model.Token{1, 1, 1})

	if logits[0] != 0 {
		t.Errorf("unseen token must be untouched: got %v", logits[0])
	}
	want := float32(0) - 1 - 0.5*3
	if logits[1] != want {
		t.Errorf("seen token got %v want %v", logits[1], want)
	}
}

func TestSamplerGreedyPicksArgmax(t *testing.T) {
	s := NewSampler(model.Params{Temperature: 0})
	logits := []float32{1, 5, 3}
	tok, _ := s.Sample(logits)
	if tok != 1 {
		t.Errorf("greedy sample got token %d, want 1", tok)
	}
}

func TestSamplerIsDeterministicWithSeed(t *testing.T) {
	params := model.Params{Temperature: 1.0, TopP: 1.0, Seed: 42, HasSeed: true}
	logits := make([]float32, 50)
	for i := range logits {
		logits[i] = float32(i) * 0.1
	}

	s1 := NewSampler(params)
	l1 := append([]float32(nil), logits...)
	tok1, lp1 := s1.Sample(l1)

	s2 := NewSampler(params)
	l2 := append([]float32(nil), logits...)
	tok2, lp2 := s2.Sample(l2)

	if tok1 != tok2 || lp1 != lp2 {
		t.Errorf("same seed expected identical draw: (%d,%v) vs (%d,%v)", tok1, lp1, tok2, lp2)
	}
}

func TestTopLogprobsOrderedDescending(t *testing.T) {
	logits := []float32{1, 5, 3, 0, 4}
	ranked := TopLogprobs(logits, 3)
	if len(ranked) != 3 {
		t.Fatalf("got %d entries, want 3", len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Logprob > ranked[i-1].Logprob {
			t.Errorf("ranked logprobs not descending at index %d", i)
		}
	}
	if ranked[0].Token != 1 {
		t.Errorf("top entry expected token 1 (highest logit), got %d", ranked[0].Token)
	}
}

func TestPipelineSkipsInactiveStages(t *testing.T) {
	pl := NewPipeline(model.Params{})
	if pl.n != 0 {
		t.Errorf("pipeline with no penalties configured should have 0 stages, got %d", pl.n)
	}
}

func TestPipelineWiresConfiguredStages(t *testing.T) {
	pl := NewPipeline(model.Params{RepetitionPenalty: 1.1, TopK: 40, MinP: 0.05})
	if pl.n != 3 {
		t.Errorf("expected 3 wired stages, got %d", pl.n)
	}
}

func TestLogSoftmaxSumsToOne(t *testing.T) {
	logits := []float32{1, 2, 3, -1}
	lp := toLogSoftmax(logits, 1.0)
	var sum float64
	for _, v := range lp {
		sum += math.Exp(float64(v))
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("softmax probabilities sum to %v, want ~1.0", sum)
	}
}
