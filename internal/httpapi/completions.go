package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/allaspectsdev/mlxd/internal/generate"
	"github.com/allaspectsdev/mlxd/internal/model"
)

// handleCompletions implements the legacy POST /v1/completions
// endpoint: a flat prompt instead of a message list, wrapped as a
// single user turn before reaching the shared generation core.
func (h *handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "prompt must be non-empty")
		return
	}

	overrides, err := overridesFromCompletion(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	events, err := h.coord.Run(r.Context(), generate.Request{
		ModelID:   req.Model,
		Path:      "/v1/completions",
		Messages:  []model.Message{{Role: model.RoleUser, Content: req.Prompt}},
		Overrides: overrides,
		Stream:    req.Stream,
	})
	if err != nil {
		writeGenerateError(w, err)
		return
	}

	id := "cmpl-" + uuid.NewString()
	created := time.Now().Unix()
	modelID := req.Model
	if modelID == "" {
		modelID = h.modelID
	}

	if req.Stream {
		h.streamCompletion(w, id, created, modelID, events)
		return
	}
	h.collectCompletion(w, id, created, modelID, events)
}

func (h *handler) collectCompletion(w http.ResponseWriter, id string, created int64, modelID string, events <-chan generate.Event) {
	var text string
	var final generate.Event
	var genErr error

	for ev := range events {
		if ev.Err != nil {
			genErr = ev.Err
			continue
		}
		text += ev.ContentDelta
		if ev.Final {
			final = ev
		}
	}
	if genErr != nil {
		writeGenerateError(w, genErr)
		return
	}

	resp := CompletionResponse{
		ID:      id,
		Object:  "text_completion",
		Created: created,
		Model:   modelID,
		Choices: []CompletionChoice{{
			Index:        0,
			Text:         text,
			FinishReason: string(final.FinishReason),
		}},
		Usage: toWireUsage(final.Info),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// legacyCompletionChunk is the streaming wire shape for /v1/completions,
// distinct from ChatCompletionChunk's delta-object shape: legacy clients
// expect a flat "text" field per chunk.
type legacyCompletionChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []legacyChunkChoice `json:"choices"`
}

type legacyChunkChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

func (h *handler) streamCompletion(w http.ResponseWriter, id string, created int64, modelID string, events <-chan generate.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := newSSEWriter(w)
	for ev := range events {
		if ev.Err != nil {
			_ = sse.writeData(mustJSON(errorChunk(id, created, modelID, ev.Err)))
			_ = sse.writeDone()
			return
		}
		if ev.Final {
			reason := string(ev.FinishReason)
			chunk := legacyCompletionChunk{
				ID: id, Object: "text_completion", Created: created, Model: modelID,
				Choices: []legacyChunkChoice{{Index: 0, Text: "", FinishReason: &reason}},
			}
			_ = sse.writeData(mustJSON(chunk))
			_ = sse.writeDone()
			return
		}
		if ev.ContentDelta == "" {
			continue
		}
		chunk := legacyCompletionChunk{
			ID: id, Object: "text_completion", Created: created, Model: modelID,
			Choices: []legacyChunkChoice{{Index: 0, Text: ev.ContentDelta, FinishReason: nil}},
		}
		if err := sse.writeData(mustJSON(chunk)); err != nil {
			return
		}
	}
}
