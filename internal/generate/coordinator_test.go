package generate

import (
	"context"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/mlxd/internal/cache"
	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/model"
)

// ---------------------------------------------------------------------------
// fakeTokenizer: a trivial whitespace tokenizer where token N decodes to
// the word "wN " (so generated text is predictable from token ids), plus a
// single EOS token id.
// ---------------------------------------------------------------------------

const fakeEOS model.Token = 999

type fakeTokenizer struct{}

func (fakeTokenizer) Encode(text string) []model.Token {
	words := strings.Fields(text)
	out := make([]model.Token, len(words))
	for i := range words {
		out[i] = model.Token(i + 1)
	}
	return out
}

func (fakeTokenizer) Decode(tokens []model.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(string(fakeTokenizer{}.TokenToBytes(t)))
	}
	return b.String()
}

func (fakeTokenizer) TokenToBytes(t model.Token) []byte {
	if t == fakeEOS {
		return nil
	}
	return []byte("w" + strconv.Itoa(int(t)) + " ")
}

func (fakeTokenizer) EOSTokens() []model.Token { return []model.Token{fakeEOS} }
func (fakeTokenizer) BOS() model.Token         { return -1 }

// ---------------------------------------------------------------------------
// seqModel emits a fixed sequence of tokens regardless of logits content,
// by giving every logit row an overwhelming bias toward the next token in
// the script; once the script is exhausted it favors EOS forever.
// ---------------------------------------------------------------------------

type seqModel struct {
	script []model.Token
	step   int
}

func (m *seqModel) next() model.Token {
	if m.step < len(m.script) {
		t := m.script[m.step]
		m.step++
		return t
	}
	return fakeEOS
}

func (m *seqModel) Forward(ctx context.Context, tokens []model.Token, kv model.KVCache) ([]float32, error) {
	c := kv.(*fakeCache)
	c.offset += len(tokens)
	logits := make([]float32, 1000)
	negInf := float32(math.Inf(-1))
	for i := range logits {
		logits[i] = negInf
	}
	logits[m.next()] = 0
	return logits, nil
}

func (m *seqModel) NewCache() model.KVCache { return &fakeCache{} }
func (m *seqModel) VocabSize() int          { return 1000 }

func testGenConfig() config.GenerationConfig {
	return config.GenerationConfig{
		MaxTokens:             64,
		Temperature:           1,
		TopP:                  1,
		RepetitionPenalty:     1,
		RepetitionContextSize: 16,
		ToolCallParser:        "none",
	}
}

func newTestCoordinator(t *testing.T, mdl model.Model) *Coordinator {
	t.Helper()
	mgr, err := cache.NewManager(cache.Config{MaxTokens: 10000, GenerationSlots: 1})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Close)

	return &Coordinator{
		Model:      mdl,
		Tokenizer:  fakeTokenizer{},
		Cache:      mgr,
		ModelID:    "test-model",
		Defaults:   testGenConfig(),
		IterConfig: IteratorConfig{PrefillStepSize: 512},
	}
}

func drain(t *testing.T, events <-chan Event) (string, *Event) {
	t.Helper()
	var text strings.Builder
	var final Event
	for ev := range events {
		text.WriteString(ev.ContentDelta)
		if ev.Final {
			final = ev
		}
	}
	return text.String(), &final
}

func TestCoordinator_RejectsEmptyMessages(t *testing.T) {
	c := newTestCoordinator(t, &seqModel{})
	_, err := c.Run(context.Background(), Request{ModelID: "test-model"})
	if err == nil {
		t.Fatalf("expected an error for empty messages")
	}
	var gErr *Error
	if !asError(err, &gErr) || gErr.Kind != KindInvalidRequest {
		t.Errorf("got %v, want invalid_request_error", err)
	}
}

func TestCoordinator_RejectsUnknownModel(t *testing.T) {
	c := newTestCoordinator(t, &seqModel{})
	_, err := c.Run(context.Background(), Request{
		ModelID:  "some-other-model",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	var gErr *Error
	if !asError(err, &gErr) || gErr.Kind != KindNotFound {
		t.Fatalf("got %v, want not_found", err)
	}
}

func TestCoordinator_ProducesVisibleTextAndStopsAtEOS(t *testing.T) {
	mdl := &seqModel{script: []model.Token{1, 2, 3}}
	c := newTestCoordinator(t, mdl)

	events, err := c.Run(context.Background(), Request{
		ModelID:  "test-model",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text, final := drain(t, events)

	want := "w1 w2 w3 "
	if text != want {
		t.Errorf("got text %q, want %q", text, want)
	}
	if final.FinishReason != model.FinishStop {
		t.Errorf("finish reason = %q, want %q", final.FinishReason, model.FinishStop)
	}
	if final.Info.Usage.CompletionTokens != 3 {
		t.Errorf("completion tokens = %d, want 3", final.Info.Usage.CompletionTokens)
	}
}

func TestCoordinator_StopsAtMaxTokensWithLengthReason(t *testing.T) {
	mdl := &seqModel{script: []model.Token{1, 2, 3, 4, 5, 6, 7, 8}}
	c := newTestCoordinator(t, mdl)
	maxTok := 2

	events, err := c.Run(context.Background(), Request{
		ModelID:   "test-model",
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hello"}},
		Overrides: Overrides{MaxTokens: &maxTok},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, final := drain(t, events)
	if final.FinishReason != model.FinishLength {
		t.Errorf("finish reason = %q, want %q", final.FinishReason, model.FinishLength)
	}
	if final.Info.Usage.CompletionTokens != 2 {
		t.Errorf("completion tokens = %d, want 2", final.Info.Usage.CompletionTokens)
	}
}

func TestCoordinator_StopStringTruncatesOutput(t *testing.T) {
	mdl := &seqModel{script: []model.Token{1, 2, 3, 4}}
	c := newTestCoordinator(t, mdl)

	events, err := c.Run(context.Background(), Request{
		ModelID:   "test-model",
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hello"}},
		Overrides: Overrides{Stop: []string{"w2"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	text, final := drain(t, events)
	if strings.Contains(text, "w2") || strings.Contains(text, "w3") {
		t.Errorf("got %q, expected truncation at the stop string", text)
	}
	if final.FinishReason != model.FinishStop {
		t.Errorf("finish reason = %q, want %q", final.FinishReason, model.FinishStop)
	}
}

func TestCoordinator_SecondRequestHitsPrefixCache(t *testing.T) {
	mdl := &seqModel{script: []model.Token{1, 2, fakeEOS, 1, 2}}
	c := newTestCoordinator(t, mdl)
	req := Request{
		ModelID:  "test-model",
		Messages: []model.Message{{Role: model.RoleSystem, Content: "shared prefix"}, {Role: model.RoleUser, Content: "hello"}},
	}

	events1, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run #1: %v", err)
	}
	drain(t, events1)

	events2, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run #2: %v", err)
	}
	_, final := drain(t, events2)
	if final.Info.Usage.CachedTokens == 0 {
		t.Errorf("expected second identical request to report cached tokens, got 0")
	}
}

func TestCoordinator_QueueFullReturns503Kind(t *testing.T) {
	mdl := &seqModel{script: []model.Token{1, 2, 3}}
	c := newTestCoordinator(t, mdl)
	c.MaxQueueDepth = 1
	c.queued = 1 // simulate one request already in flight

	_, err := c.Run(context.Background(), Request{
		ModelID:  "test-model",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	var gErr *Error
	if !asError(err, &gErr) || gErr.Kind != KindQueueFull {
		t.Fatalf("got %v, want queue_full", err)
	}
}

func TestCoordinator_RequestTimeoutReportsTimeoutKind(t *testing.T) {
	mdl := &seqModel{script: []model.Token{1, 2, 3, 4, 5}}
	c := newTestCoordinator(t, mdl)
	c.RequestTimeout = time.Nanosecond

	events, err := c.Run(context.Background(), Request{
		ModelID:  "test-model",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, final := drain(t, events)
	if final.Err == nil {
		t.Fatalf("expected a timeout error")
	}
	var gErr *Error
	if !asError(final.Err, &gErr) || gErr.Kind != KindTimeout {
		t.Errorf("got %v, want timeout", final.Err)
	}
}

// asError is a tiny errors.As wrapper kept local to avoid importing
// "errors" into every test for one assertion helper.
func asError(err error, target **Error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
