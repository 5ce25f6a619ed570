package cache

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/allaspectsdev/mlxd/internal/model"
)

// fingerprintInput is the canonical, order-stable shape hashed to build a
// request fingerprint. Sampling parameters (temperature, seed, stop,
// max_tokens, ...) are deliberately excluded: they don't affect what the
// prefill pass computes, only how the resulting logits get sampled, so
// two requests differing only in those fields can still share a cached
// KV prefix.
type fingerprintInput struct {
	Model          string          `json:"model"`
	System         string          `json:"system,omitempty"`
	Messages       []model.Message `json:"messages"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

// Fingerprint computes a stable cache key for a request's cacheable
// surface. It is a hash, not a security boundary, so xxhash suffices:
// collisions are astronomically unlikely for any realistic number of
// concurrently cached prefixes, and xxhash is cheap per request.
func Fingerprint(modelName, system string, messages []model.Message, tools, responseFormat json.RawMessage) string {
	in := fingerprintInput{
		Model:          modelName,
		System:         system,
		Messages:       messages,
		Tools:          tools,
		ResponseFormat: responseFormat,
	}
	b, err := json.Marshal(in)
	if err != nil {
		// Marshal of these concrete types cannot fail in practice; fall
		// back to a fingerprint over the model name alone so a bug here
		// degrades to "never hits cache" rather than panicking.
		return "fp:" + modelName
	}
	return "fp:" + strconv.FormatUint(xxhash.Sum64(b), 16)
}

// IsCacheable reports whether a request is eligible to be served from,
// or contribute to, the prefix cache. Streaming responses are cacheable
// the same as non-streaming ones: the cache stores the KV prefix, not
// the rendered text, so streaming is not disqualifying.
func IsCacheable(messages []model.Message) bool {
	return len(messages) > 0
}
