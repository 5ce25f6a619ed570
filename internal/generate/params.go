package generate

import (
	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/model"
)

// Overrides carries the subset of generation parameters a request
// explicitly set, as opposed to the server defaults. A nil pointer
// means the request didn't mention the field at all; ResponseFormat
// and Stop distinguish "absent" (nil) from "explicitly empty".
type Overrides struct {
	MaxTokens             *int
	Temperature           *float64
	TopP                  *float64
	TopK                  *int
	MinP                  *float64
	RepetitionPenalty     *float64
	RepetitionContextSize *int
	PresencePenalty       *float64
	FrequencyPenalty      *float64
	Seed                  *int64
	Stop                  []string
	Logprobs              *bool
	TopLogprobs           *int
}

// MergeParams overlays req on top of the server's configured
// generation defaults, clamping to documented ranges and rejecting
// out-of-range values with an invalid_request_error. serverStop is the
// set of stop strings configured server-wide (e.g. a chat template's
// end-of-turn marker); it is unioned with the request's own stop set,
// order preserved.
func MergeParams(defaults config.GenerationConfig, serverStop []string, req Overrides) (model.Params, error) {
	p := model.Params{
		MaxTokens:         defaults.MaxTokens,
		Temperature:       float32(defaults.Temperature),
		TopP:              float32(defaults.TopP),
		TopK:              defaults.TopK,
		MinP:              float32(defaults.MinP),
		RepetitionPenalty: float32(defaults.RepetitionPenalty),
		RepetitionContext: defaults.RepetitionContextSize,
		ToolParser:        defaults.ToolCallParser,
		FixToolArgs:       defaults.FixToolArgs,
		RawMode:           defaults.RawMode,
	}

	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			return p, invalidRequestf("max_tokens must be positive, got %d", *req.MaxTokens)
		}
		p.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 {
			return p, invalidRequestf("temperature must be >= 0, got %v", *req.Temperature)
		}
		p.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		if *req.TopP <= 0 || *req.TopP > 1 {
			return p, invalidRequestf("top_p must be in (0, 1], got %v", *req.TopP)
		}
		p.TopP = float32(*req.TopP)
	}
	if req.TopK != nil {
		if *req.TopK < 0 {
			return p, invalidRequestf("top_k must be >= 0, got %d", *req.TopK)
		}
		p.TopK = *req.TopK
	}
	if req.MinP != nil {
		if *req.MinP < 0 || *req.MinP >= 1 {
			return p, invalidRequestf("min_p must be in [0, 1), got %v", *req.MinP)
		}
		p.MinP = float32(*req.MinP)
	}
	if req.RepetitionPenalty != nil {
		if *req.RepetitionPenalty <= 0 {
			return p, invalidRequestf("repetition_penalty must be > 0, got %v", *req.RepetitionPenalty)
		}
		p.RepetitionPenalty = float32(*req.RepetitionPenalty)
	}
	if req.RepetitionContextSize != nil {
		if *req.RepetitionContextSize <= 0 {
			return p, invalidRequestf("repetition_context_size must be positive, got %d", *req.RepetitionContextSize)
		}
		p.RepetitionContext = *req.RepetitionContextSize
	}
	if req.PresencePenalty != nil {
		p.PresencePenalty = float32(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		p.FrequencyPenalty = float32(*req.FrequencyPenalty)
	}
	if req.Seed != nil {
		p.Seed = *req.Seed
		p.HasSeed = true
	}
	if req.Logprobs != nil {
		p.Logprobs = *req.Logprobs
	}
	if req.TopLogprobs != nil {
		if *req.TopLogprobs < 0 || *req.TopLogprobs > 20 {
			return p, invalidRequestf("top_logprobs must be in [0, 20], got %d", *req.TopLogprobs)
		}
		p.TopLogprobs = *req.TopLogprobs
	}

	p.Stop = unionStop(serverStop, req.Stop)

	return p, nil
}

// unionStop merges two ordered stop-string sets, deduplicating while
// preserving first-seen order.
func unionStop(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range b {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
