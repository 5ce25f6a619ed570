package generate

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/allaspectsdev/mlxd/internal/cache"
	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/detok"
	"github.com/allaspectsdev/mlxd/internal/intercept"
	"github.com/allaspectsdev/mlxd/internal/intercept/parsers"
	"github.com/allaspectsdev/mlxd/internal/model"
	"github.com/allaspectsdev/mlxd/internal/store"
)

// Request is one completion request, already decoded and structurally
// validated (role normalization, nonempty messages) by internal/httpapi.
type Request struct {
	ModelID        string
	Path           string // e.g. "/v1/chat/completions", for metrics/logging only
	Messages       []model.Message
	Tools          json.RawMessage
	ResponseFormat json.RawMessage
	Overrides      Overrides
	Stream         bool
}

// Event is one unit of output from a running generation. The same
// sequence of Events backs both the non-streaming response (the caller
// accumulates every Event) and the SSE surface (the caller frames each
// Event as a chunk), so streamed and non-streamed output agree by
// construction: there is only one code path.
type Event struct {
	Role           string // set once, on the first event
	ContentDelta   string
	ReasoningDelta string
	ToolCalls      []parsers.ToolCall
	Logprob        *model.TokenLogprob

	Final        bool
	FinishReason model.FinishReason
	Info         model.CompletionInfo
	Err          error
}

// generationLogger is the subset of *store.Store the coordinator needs;
// kept as an interface so tests don't require a real database. A nil
// Logger is a valid Coordinator: persistence is optional.
type generationLogger interface {
	InsertGeneration(g *store.Generation) error
}

// metricsSink is the subset of *metrics.Collector the coordinator
// drives, kept as an interface for the same reason as generationLogger.
type metricsSink interface {
	IncrementActive()
	DecrementActive()
	SetQueueDepth(n int)
	ObserveTTFT(model string, d time.Duration)
	RecordError(kind string)
	RecordRequest(path, model string, statusCode int, promptTokens, completionTokens, cachedTokens int, cacheHit, streaming bool, duration time.Duration)
}

// Coordinator validates and merges parameters, consults the prefix
// cache, serializes access to the model through a single generation
// slot, and drives a TokenIterator through the detokenizer and content
// interceptor.
type Coordinator struct {
	Model     model.Model
	Tokenizer model.Tokenizer
	Cache     *cache.Manager
	Metrics   metricsSink
	Logger    generationLogger

	ModelID        string
	Defaults       config.GenerationConfig
	IterConfig     IteratorConfig
	MaxQueueDepth  int
	RequestTimeout time.Duration

	queued int64
}

// Run validates req and, if valid, starts generation in a background
// goroutine, returning a channel of Events the caller drains to
// completion. A non-nil error return means generation never started
// (validation, unknown model, or queue-full) and the channel is nil.
func (c *Coordinator) Run(ctx context.Context, req Request) (<-chan Event, error) {
	if req.ModelID != "" && c.ModelID != "" && req.ModelID != c.ModelID {
		return nil, newError(KindNotFound, "unknown model %q", req.ModelID)
	}
	if len(req.Messages) == 0 {
		return nil, invalidRequestf("messages must be non-empty")
	}

	params, err := MergeParams(c.Defaults, c.Defaults.DefaultStop, req.Overrides)
	if err != nil {
		return nil, err
	}
	params.RawMode = c.Defaults.RawMode
	params.ToolParser = c.Defaults.ToolCallParser
	params.FixToolArgs = c.Defaults.FixToolArgs

	if c.MaxQueueDepth > 0 {
		n := atomic.AddInt64(&c.queued, 1)
		if c.Metrics != nil {
			c.Metrics.SetQueueDepth(int(n))
		}
		if int(n) > c.MaxQueueDepth {
			atomic.AddInt64(&c.queued, -1)
			if c.Metrics != nil {
				c.Metrics.SetQueueDepth(int(atomic.LoadInt64(&c.queued)))
				c.Metrics.RecordError(string(KindQueueFull))
			}
			return nil, newError(KindQueueFull, "generation queue depth exceeded")
		}
	}

	events := make(chan Event, 8)
	go c.run(ctx, req, params, events)
	return events, nil
}

func (c *Coordinator) run(ctx context.Context, req Request, params model.Params, events chan<- Event) {
	defer close(events)
	if c.MaxQueueDepth > 0 {
		defer func() {
			n := atomic.AddInt64(&c.queued, -1)
			if c.Metrics != nil {
				c.Metrics.SetQueueDepth(int(n))
			}
		}()
	}

	if c.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
	}

	fingerprint := cache.Fingerprint(req.ModelID, systemPrompt(req.Messages), req.Messages, req.Tools, req.ResponseFormat)
	prompt := RenderPrompt(req.Messages)
	promptTokens := c.Tokenizer.Encode(prompt)

	var kv model.KVCache
	var cachedTokens int
	var snap *cache.Snapshot
	snap, claimRelease, err := c.Cache.ClaimOrWait(ctx, fingerprint)
	if err != nil {
		events <- c.errEvent(ctx, err)
		return
	}
	if snap != nil {
		kv = snap.Cache.Clone()
		if snap.Tokens > 0 {
			// The last cached position's own token still needs its logits recomputed
			// against the new continuation, so only the tokens
			// strictly before it were truly free.
			cachedTokens = snap.Tokens - 1
		}
	} else {
		kv = c.Model.NewCache()
	}

	release, err := c.Cache.AcquireSlot(ctx)
	if err != nil {
		if snap != nil {
			snap.Release()
		}
		if claimRelease != nil {
			claimRelease()
		}
		events <- c.errEvent(ctx, err)
		return
	}
	if c.Metrics != nil {
		c.Metrics.IncrementActive()
	}
	defer func() {
		release()
		if c.Metrics != nil {
			c.Metrics.DecrementActive()
		}
		if snap != nil {
			snap.Release()
		}
	}()

	start := time.Now()
	it, err := Start(ctx, c.Model, kv, promptTokens, params, c.IterConfig)
	if claimRelease != nil {
		// This request owned the prefill for fingerprint; store a
		// prefill-only snapshot immediately (before decoding starts
		// mutating kv further) so a concurrent waiter unblocks with a
		// cache hit rather than waiting for this whole generation,
		// then release the claim so it can proceed.
		if err == nil && cache.IsCacheable(req.Messages) {
			c.Cache.Store(fingerprint, kv, len(promptTokens))
		}
		claimRelease()
	}
	if err != nil {
		events <- c.errEvent(ctx, err)
		return
	}
	if c.Metrics != nil {
		c.Metrics.ObserveTTFT(req.ModelID, it.PromptPrefillTime())
	}

	eos := make(map[model.Token]struct{})
	for _, t := range c.Tokenizer.EOSTokens() {
		eos[t] = struct{}{}
	}

	events <- Event{Role: "assistant"}

	dt := detok.New(c.Tokenizer)
	ic := intercept.New(
		intercept.WithStopStrings(params.Stop),
		intercept.WithToolParser(parsers.Lookup(params.ToolParser)),
		intercept.WithFixToolArgs(params.FixToolArgs),
		intercept.WithRawMode(params.RawMode),
	)

	var toolCallCount int
	finish := model.FinishStop
	stoppedByStopString := false
	hitEOS := false

	for {
		tok, ok, stepErr := it.Next(ctx)
		if stepErr != nil {
			events <- c.errEvent(ctx, stepErr)
			return
		}
		if !ok {
			break
		}
		if _, isEOS := eos[tok]; isEOS {
			hitEOS = true
			break
		}

		chunk, has := dt.Push(tok)
		if !has {
			continue
		}
		res := ic.Feed(chunk)
		if len(res.ToolCalls) > 0 {
			toolCallCount += len(res.ToolCalls)
		}
		if res.Visible != "" || res.Reasoning != "" || len(res.ToolCalls) > 0 {
			ev := Event{ContentDelta: res.Visible, ReasoningDelta: res.Reasoning, ToolCalls: res.ToolCalls}
			if params.Logprobs {
				if lp, ok := it.LastLogprob(); ok {
					lp.Text = c.Tokenizer.Decode([]model.Token{lp.Token})
					for i := range lp.Top {
						lp.Top[i].Text = c.Tokenizer.Decode([]model.Token{lp.Top[i].Token})
					}
					ev.Logprob = &lp
				}
			}
			events <- ev
		}
		if res.Stopped {
			stoppedByStopString = true
			break
		}
	}

	if !stoppedByStopString {
		tail := dt.Flush()
		if tail != "" {
			res := ic.Feed(tail)
			if len(res.ToolCalls) > 0 {
				toolCallCount += len(res.ToolCalls)
			}
			if res.Visible != "" || res.Reasoning != "" || len(res.ToolCalls) > 0 {
				events <- Event{ContentDelta: res.Visible, ReasoningDelta: res.Reasoning, ToolCalls: res.ToolCalls}
			}
			if res.Stopped {
				stoppedByStopString = true
			}
		}
	}
	if !stoppedByStopString {
		res := ic.Flush()
		if len(res.ToolCalls) > 0 {
			toolCallCount += len(res.ToolCalls)
		}
		if res.Visible != "" || res.Reasoning != "" || len(res.ToolCalls) > 0 {
			events <- Event{ContentDelta: res.Visible, ReasoningDelta: res.Reasoning, ToolCalls: res.ToolCalls}
		}
		if res.Stopped {
			stoppedByStopString = true
		}
	}

	switch {
	case stoppedByStopString:
		finish = model.FinishStop
	case toolCallCount > 0:
		finish = model.FinishToolCalls
	case hitEOS:
		finish = model.FinishStop
	case params.MaxTokens > 0 && it.TokensGenerated() >= params.MaxTokens:
		finish = model.FinishLength
	}

	generateTime := time.Since(start) - it.PromptPrefillTime()
	if generateTime < 0 {
		generateTime = 0
	}
	completionTokens := it.TokensGenerated()
	if hitEOS {
		// The EOS token ends generation but is never returned to the
		// caller, so it is not counted as a completion token.
		completionTokens--
	}
	info := model.CompletionInfo{
		Usage: model.Usage{
			PromptTokens:     len(promptTokens),
			CompletionTokens: completionTokens,
			CachedTokens:     cachedTokens,
		},
		FinishReason: finish,
		PromptTime:   it.PromptPrefillTime().Seconds(),
		GenerateTime: generateTime.Seconds(),
	}
	if generateTime > 0 {
		info.TokensPerSecond = float64(completionTokens) / generateTime.Seconds()
	}

	totalLatency := time.Since(start)

	if c.Metrics != nil {
		c.Metrics.RecordRequest(req.Path, req.ModelID, 200, info.Usage.PromptTokens,
			info.Usage.CompletionTokens, info.Usage.CachedTokens, cachedTokens > 0, req.Stream, totalLatency)
	}

	if c.Logger != nil {
		_ = c.Logger.InsertGeneration(&store.Generation{
			ID:               uuid.NewString(),
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			Path:             req.Path,
			Model:            req.ModelID,
			Stream:           req.Stream,
			PromptTokens:     int64(info.Usage.PromptTokens),
			CompletionTokens: int64(info.Usage.CompletionTokens),
			CachedTokens:     int64(info.Usage.CachedTokens),
			LatencyMs:        totalLatency.Milliseconds(),
			StatusCode:       200,
			FinishReason:     string(finish),
			CacheHit:         cachedTokens > 0,
			ToolCallCount:    int64(toolCallCount),
		})
	}

	events <- Event{Final: true, FinishReason: finish, Info: info}
}

func (c *Coordinator) errEvent(ctx context.Context, err error) Event {
	var gErr *Error
	if errors.As(err, &gErr) {
		return Event{Final: true, Err: gErr}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Event{Final: true, Err: newError(KindTimeout, "request exceeded its time budget")}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return Event{Final: true, Err: newError(KindCancelled, "client disconnected")}
	}
	return Event{Final: true, Err: newError(KindModelError, "%v", err)}
}

// systemPrompt concatenates every system-role message, used as the
// cache-fingerprint's system component; it is broken out because it is
// the prefix callers most often share verbatim.
func systemPrompt(messages []model.Message) string {
	var b []byte
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			b = append(b, m.Content...)
			b = append(b, '\n')
		}
	}
	return string(b)
}
