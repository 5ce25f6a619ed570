// Package tokenizer provides an approximate, model-agnostic token count
// estimator. mlxd defers to the loaded model's own tokenizer (part of
// internal/model, out of scope for this exercise) for anything that
// affects generation; this package offers a fast token estimate for
// callers that need one before a model is loaded or without invoking it
// at all. No other package in this repository imports it.
package tokenizer

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Message represents a chat message for token counting purposes.
type Message struct {
	Role    string
	Content string
	Name    string // optional
}

// defaultEncoding is used for every estimate. mlxd does not attempt to
// match the loaded model's actual vocabulary; cl100k_base gives a
// stable, reasonably close approximation across the BPE-family
// tokenizers MLX-compatible models typically ship with.
const defaultEncoding = "cl100k_base"

// Estimator produces approximate token counts using a fixed BPE
// encoding, cached via sync.Once to avoid repeated initialization.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// New creates a new Estimator instance.
func New() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoder() (*tiktoken.Tiktoken, error) {
	e.once.Do(func() {
		e.enc, e.err = tiktoken.GetEncoding(defaultEncoding)
	})
	return e.enc, e.err
}

// CountTokens estimates the number of tokens in text.
func (e *Estimator) CountTokens(text string) int {
	enc, err := e.encoder()
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages estimates the total token count across a slice of chat
// messages. Each message incurs a 4-token overhead for role framing,
// plus 3 tokens for reply priming, mirroring the chat-markup overhead
// most instruction-tuned local models apply around each turn.
func (e *Estimator) CountMessages(messages []Message) int {
	enc, err := e.encoder()
	if err != nil {
		return 0
	}

	total := 0
	for _, msg := range messages {
		total += 4
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
		if msg.Name != "" {
			total += len(enc.Encode(msg.Name, nil, nil))
		}
	}

	total += 3
	return total
}
