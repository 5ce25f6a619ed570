// Package generate drives incremental token generation and glues the
// logit pipeline, KV cache, detokenizer, and content interceptor into a
// single per-request pipeline: TokenIterator steps the model one token
// at a time; Coordinator owns validation, prefix-cache lookup,
// generation-slot acquisition, and response assembly for both the
// non-streaming and SSE surfaces.
package generate

import (
	"context"
	"time"

	"github.com/allaspectsdev/mlxd/internal/logit"
	"github.com/allaspectsdev/mlxd/internal/model"
)

// IteratorConfig bounds the behavior of a TokenIterator that isn't part
// of the per-request sampling parameters: the prefill chunk size and how
// often the memory-compaction hook fires.
type IteratorConfig struct {
	PrefillStepSize int
	CompactEvery    int
}

// TokenIterator drives one request's forward passes: a chunked prefill
// over the prompt followed by one-token-at-a-time decoding, each step
// running the logit pipeline and sampler and updating the owned KV
// cache. EOS detection is deliberately not performed here, so the
// caller can decouple the token stream from termination policy.
//
// The model backend here has no asynchronous forward-pass API to
// prefetch against, so prefetching the next step
// collapses to eager synchronous computation: each step's
// logits are sampled immediately after the previous token is returned,
// rather than lazily on the following Next() call.
type TokenIterator struct {
	mdl    model.Model
	cache  model.KVCache
	params model.Params

	pipeline *logit.Pipeline
	sampler  *logit.Sampler
	cfg      IteratorConfig

	generated []model.Token // tokens sampled so far this request, for penalty windows

	nextToken model.Token        // sampled by the most recent step, awaiting release by Next
	pendingLP model.TokenLogprob // logprob for nextToken
	lastLP    model.TokenLogprob // logprob for the token most recently returned by Next
	haveLast  bool

	stepsTaken      int
	tokensGenerated int
	prefillTime     time.Duration

	done bool
}

// Start primes the processor chain, runs a chunked prefill over
// promptTokens to populate cache, and prepares (but does not return)
// the first sampled token. cache may already hold a reused prefix; only
// the suffix past cache.Offset() is fed through the model.
func Start(ctx context.Context, mdl model.Model, cache model.KVCache, promptTokens []model.Token, params model.Params, cfg IteratorConfig) (*TokenIterator, error) {
	if cfg.PrefillStepSize <= 0 {
		cfg.PrefillStepSize = 512
	}

	it := &TokenIterator{
		mdl:      mdl,
		cache:    cache,
		params:   params,
		pipeline: logit.NewPipeline(params),
		sampler:  logit.NewSampler(params),
		cfg:      cfg,
	}

	suffix := promptTokens[min(cache.Offset(), len(promptTokens)):]

	start := time.Now()
	var logits []float32
	if len(suffix) == 0 {
		// Entire prompt already cached. Rewind past the final prompt
		// position before re-running it: the logits for that position
		// must be recomputed to sample the first new token, and the
		// cache must not end up holding the last token twice.
		cache.TrimTo(len(promptTokens) - 1)
		row, err := mdl.Forward(ctx, promptTokens[len(promptTokens)-1:], cache)
		if err != nil {
			return nil, err
		}
		logits = row
	} else {
		for len(suffix) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n := min(cfg.PrefillStepSize, len(suffix))
			chunk := suffix[:n]
			row, err := mdl.Forward(ctx, chunk, cache)
			if err != nil {
				return nil, err
			}
			suffix = suffix[n:]
			if len(suffix) == 0 {
				logits = row
			}
		}
	}
	it.prefillTime = time.Since(start)

	it.sampleStep(logits)
	return it, nil
}

// sampleStep runs the processor chain and sampler over logits, stashing
// the result as the pending token/logprob for the next Next() call.
func (it *TokenIterator) sampleStep(logits []float32) {
	it.pipeline.Process(logits, it.generated)

	var top []model.RankedLogprob
	if it.params.Logprobs {
		n := max(min(it.params.TopLogprobs, 20), 0)
		top = logit.TopLogprobs(logits, n)
	}

	tok, lp := it.sampler.Sample(logits)
	it.nextToken = tok
	it.pendingLP = model.TokenLogprob{Token: tok, Logprob: lp, Top: top}
}

// Next returns the next generated token, or (0, false) if max_tokens has
// been reached or ctx has been cancelled. EOS detection is the caller's
// responsibility.
func (it *TokenIterator) Next(ctx context.Context) (model.Token, bool, error) {
	if it.done {
		return 0, false, nil
	}
	if err := ctx.Err(); err != nil {
		it.done = true
		return 0, false, err
	}
	if it.params.MaxTokens > 0 && it.tokensGenerated >= it.params.MaxTokens {
		it.done = true
		return 0, false, nil
	}

	tok := it.nextToken
	it.generated = append(it.generated, tok)
	it.tokensGenerated++

	// Promote this step's logprob to "last" (one-step delay, per spec
	// 4.1: the logprob delivered alongside chunk i belongs to token i,
	// not i+1).
	it.lastLP = it.pendingLP
	it.haveLast = true

	it.stepsTaken++
	if it.cfg.CompactEvery > 0 && it.stepsTaken%it.cfg.CompactEvery == 0 {
		if c, ok := it.mdl.(model.Compactor); ok {
			c.CompactMemory()
		}
	}

	if it.params.MaxTokens > 0 && it.tokensGenerated >= it.params.MaxTokens {
		it.done = true
		return tok, true, nil
	}

	logits, err := it.mdl.Forward(ctx, []model.Token{tok}, it.cache)
	if err != nil {
		it.done = true
		return tok, true, err
	}
	it.sampleStep(logits)
	return tok, true, nil
}

// LastLogprob returns the logprob record for the token most recently
// returned by Next, or false if logprobs were not requested or no
// token has been emitted yet.
func (it *TokenIterator) LastLogprob() (model.TokenLogprob, bool) {
	if !it.params.Logprobs || !it.haveLast {
		return model.TokenLogprob{}, false
	}
	return it.lastLP, true
}

// PromptPrefillTime returns how long the prefill phase took.
func (it *TokenIterator) PromptPrefillTime() time.Duration { return it.prefillTime }

// TokensGenerated returns the number of tokens returned by Next so far.
func (it *TokenIterator) TokensGenerated() int { return it.tokensGenerated }

// Cancel stops the iterator; the caller is then responsible for
// returning or discarding its KV cache (e.g. via cache.Manager).
func (it *TokenIterator) Cancel() {
	it.done = true
}
