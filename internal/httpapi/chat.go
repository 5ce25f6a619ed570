package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/allaspectsdev/mlxd/internal/generate"
	"github.com/allaspectsdev/mlxd/internal/intercept/parsers"
	"github.com/allaspectsdev/mlxd/internal/model"
)

const maxRequestBody = 10 << 20 // 10 MiB; generous for long histories/tool schemas

// handleChatCompletions implements POST /v1/chat/completions, both the
// single-JSON-response and SSE-streaming shapes, by draining the same
// generate.Event channel either fully before responding or chunk by
// chunk as events arrive. There is exactly one generation code path
// feeding both, so streamed and accumulated output cannot diverge.
func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}

	messages, err := toModelMessages(req.Messages)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if err := validateResponseFormat(req.ResponseFormat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	overrides, err := overridesFromChat(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	events, err := h.coord.Run(r.Context(), generate.Request{
		ModelID:        req.Model,
		Path:           "/v1/chat/completions",
		Messages:       messages,
		Tools:          req.Tools,
		ResponseFormat: req.ResponseFormat,
		Overrides:      overrides,
		Stream:         req.Stream,
	})
	if err != nil {
		writeGenerateError(w, err)
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	modelID := req.Model
	if modelID == "" {
		modelID = h.modelID
	}

	if req.Stream {
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		h.streamChat(w, id, created, modelID, events, includeUsage)
		return
	}
	h.collectChat(w, id, created, modelID, events)
}

// collectChat drains events to completion and writes a single JSON
// response.
func (h *handler) collectChat(w http.ResponseWriter, id string, created int64, modelID string, events <-chan generate.Event) {
	var content, reasoning string
	var toolCalls []parsers.ToolCall
	var logprobs []LogprobContent
	var final generate.Event
	var genErr error

	for ev := range events {
		if ev.Err != nil {
			genErr = ev.Err
			continue
		}
		content += ev.ContentDelta
		reasoning += ev.ReasoningDelta
		toolCalls = append(toolCalls, ev.ToolCalls...)
		if ev.Logprob != nil {
			logprobs = append(logprobs, toLogprobContent(*ev.Logprob))
		}
		if ev.Final {
			final = ev
		}
	}

	if genErr != nil {
		writeGenerateError(w, genErr)
		return
	}

	msg := ResponseMessage{Role: "assistant", ReasoningContent: reasoning}
	if content != "" || len(toolCalls) == 0 {
		c := content
		msg.Content = &c
	}
	msg.ToolCalls = toWireToolCalls(toolCalls)

	resp := ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   modelID,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: string(final.FinishReason),
			Logprobs:     logprobsOrNil(logprobs),
		}},
		Usage: toWireUsage(final.Info),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// streamChat frames each event as an SSE "chat.completion.chunk",
// attaching per-token logprobs to the chunk that carries the token's
// text and, when the request set stream_options.include_usage, the
// usage object to the final chunk.
func (h *handler) streamChat(w http.ResponseWriter, id string, created int64, modelID string, events <-chan generate.Event, includeUsage bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := newSSEWriter(w)
	roleSent := false

	for ev := range events {
		if ev.Err != nil {
			// A timeout, cancellation, or model error mid-stream:
			// the response has already started, so surface it as a final
			// chunk rather than rewriting the status code.
			_ = sse.writeData(mustJSON(errorChunk(id, created, modelID, ev.Err)))
			_ = sse.writeDone()
			return
		}

		if ev.Final {
			reason := string(ev.FinishReason)
			chunk := ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: modelID,
				Choices: []ChunkChoice{{Index: 0, Delta: Delta{}, FinishReason: &reason}},
			}
			if includeUsage {
				u := toWireUsage(ev.Info)
				chunk.Usage = &u
			}
			_ = sse.writeData(mustJSON(chunk))
			_ = sse.writeDone()
			return
		}

		d := Delta{Content: ev.ContentDelta, ReasoningContent: ev.ReasoningDelta, ToolCalls: toWireToolCalls(ev.ToolCalls)}
		var lp *ChoiceLogprobs
		if ev.Logprob != nil {
			lp = &ChoiceLogprobs{Content: []LogprobContent{toLogprobContent(*ev.Logprob)}}
		}
		if !roleSent {
			d.Role = "assistant"
			roleSent = true
		}
		if d.Content == "" && d.ReasoningContent == "" && len(d.ToolCalls) == 0 && d.Role == "" && lp == nil {
			continue
		}
		chunk := ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: modelID,
			Choices: []ChunkChoice{{Index: 0, Delta: d, FinishReason: nil, Logprobs: lp}},
		}
		if err := sse.writeData(mustJSON(chunk)); err != nil {
			return
		}
	}
}

func toLogprobContent(lp model.TokenLogprob) LogprobContent {
	c := LogprobContent{Token: lp.Text, Logprob: float64(lp.Logprob)}
	for _, t := range lp.Top {
		c.TopLogprobs = append(c.TopLogprobs, TopLogprobWire{Token: t.Text, Logprob: float64(t.Logprob)})
	}
	return c
}

func logprobsOrNil(c []LogprobContent) *ChoiceLogprobs {
	if len(c) == 0 {
		return nil
	}
	return &ChoiceLogprobs{Content: c}
}

func toWireToolCalls(calls []parsers.ToolCall) []ToolCallWire {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCallWire, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCallWire{
			ID:   c.ID,
			Type: "function",
			Function: ToolFunction{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return out
}

func toWireUsage(info model.CompletionInfo) Usage {
	u := Usage{
		PromptTokens:     info.Usage.PromptTokens,
		CompletionTokens: info.Usage.CompletionTokens,
		TotalTokens:      info.Usage.PromptTokens + info.Usage.CompletionTokens,
	}
	if info.Usage.CachedTokens > 0 {
		u.PromptTokensDetails = &PromptTokensDetails{CachedTokens: info.Usage.CachedTokens}
	}
	return u
}

func errorChunk(id string, created int64, modelID string, err error) ErrorBody {
	if gErr, ok := err.(*generate.Error); ok {
		return ErrorBody{Error: Error{Message: gErr.Message, Type: string(gErr.Kind)}}
	}
	return ErrorBody{Error: Error{Message: err.Error(), Type: string(generate.KindInternal)}}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
