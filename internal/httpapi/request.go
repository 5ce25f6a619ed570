package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/allaspectsdev/mlxd/internal/generate"
	"github.com/allaspectsdev/mlxd/internal/model"
)

// messageText extracts the plain-text content of a ChatMessage,
// accepting both OpenAI's "content is a string" and "content is an
// array of {type,text} parts" shapes, resolved by sniffing the first
// non-whitespace byte of the raw JSON.
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "\""):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("parsing message content string: %w", err)
		}
		return s, nil
	case strings.HasPrefix(trimmed, "["):
		var parts []contentPart
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", fmt.Errorf("parsing message content parts: %w", err)
		}
		var b strings.Builder
		for _, p := range parts {
			if p.Type != "" && p.Type != "text" {
				return "", fmt.Errorf("unsupported content part type %q", p.Type)
			}
			b.WriteString(p.Text)
		}
		return b.String(), nil
	case trimmed == "null" || trimmed == "":
		return "", nil
	default:
		return "", fmt.Errorf("message content must be a string or an array of content parts")
	}
}

// toModelMessages converts the wire message list to the generation
// core's internal model.Message list, normalizing "developer" to
// "system" and rejecting unknown roles.
func toModelMessages(in []ChatMessage) ([]model.Message, error) {
	out := make([]model.Message, 0, len(in))
	for i, m := range in {
		role := generate.NormalizeRole(m.Role)
		switch model.Role(role) {
		case model.RoleSystem, model.RoleUser, model.RoleAssistant, model.RoleTool:
		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
		text, err := messageText(m.Content)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		var calls []model.ToolCall
		for _, tc := range m.ToolCalls {
			calls = append(calls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		out = append(out, model.Message{
			Role:       model.Role(role),
			Content:    text,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  calls,
		})
	}
	return out, nil
}

// validateResponseFormat checks response_format.type against the
// recognized set. Enforcing the output shape itself is the loaded
// model's job (grammar constraints or chat-template steering live in
// the backend); the surface's job is to reject types it has never
// heard of instead of silently ignoring them.
func validateResponseFormat(raw json.RawMessage) error {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	var rf struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &rf); err != nil {
		return fmt.Errorf("parsing response_format: %w", err)
	}
	switch rf.Type {
	case "", "text", "json_object", "json_schema":
		return nil
	default:
		return fmt.Errorf("unsupported response_format type %q", rf.Type)
	}
}

// parseStop decodes a "stop" field that may be absent, a single string,
// or an array of strings.
func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil, fmt.Errorf("stop must be a string or an array of strings")
	}
	return ss, nil
}

// overridesFromChat builds the generation core's Overrides from a
// ChatCompletionRequest, preferring max_completion_tokens over the
// deprecated max_tokens when both are set.
func overridesFromChat(req ChatCompletionRequest) (generate.Overrides, error) {
	stop, err := parseStop(req.Stop)
	if err != nil {
		return generate.Overrides{}, err
	}
	o := generate.Overrides{
		Temperature:           req.Temperature,
		TopP:                  req.TopP,
		TopK:                  req.TopK,
		MinP:                  req.MinP,
		RepetitionPenalty:     req.RepetitionPenalty,
		PresencePenalty:       req.PresencePenalty,
		FrequencyPenalty:      req.FrequencyPenalty,
		Seed:                  req.Seed,
		Stop:                  stop,
		Logprobs:              req.Logprobs,
		TopLogprobs:           req.TopLogprobs,
	}
	if req.MaxCompletionTok != nil {
		o.MaxTokens = req.MaxCompletionTok
	} else if req.MaxTokens != nil {
		o.MaxTokens = req.MaxTokens
	}
	return o, nil
}

// overridesFromCompletion builds Overrides from a legacy CompletionRequest.
func overridesFromCompletion(req CompletionRequest) (generate.Overrides, error) {
	stop, err := parseStop(req.Stop)
	if err != nil {
		return generate.Overrides{}, err
	}
	o := generate.Overrides{
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		TopK:              req.TopK,
		MinP:              req.MinP,
		RepetitionPenalty: req.RepetitionPenalty,
		Seed:              req.Seed,
		Stop:              stop,
	}
	if req.Logprobs != nil && *req.Logprobs > 0 {
		t := true
		o.Logprobs = &t
		o.TopLogprobs = req.Logprobs
	}
	return o, nil
}
