// Package model defines the collaborator interfaces the inference core
// depends on: the neural network forward pass, the tokenizer, and the
// per-layer KV cache. Concrete implementations (weight loading,
// quantization, the actual matrix math) are out of scope for this
// repository; callers wire in a real backend at startup.
package model

import "context"

// Token is a vocabulary entry id.
type Token = int32

// KVCache holds the retained per-layer key/value tensors produced by past
// forward passes for one generation. Offset is the number of tokens
// already folded into the cache; it is monotonically non-decreasing until
// Reset.
type KVCache interface {
	// Offset returns the number of tokens already present in the cache.
	Offset() int

	// TrimTo discards any cached state beyond position n, used when a
	// cache must be rewound to a fork point shared by a shorter prompt.
	TrimTo(n int)

	// Clone returns a cache that structurally shares state with the
	// receiver where the implementation permits, falling back to a full
	// copy otherwise. The clone has its own Offset and may be mutated
	// independently of the receiver after the call returns.
	Clone() KVCache

	// Reset discards all retained state, returning the cache to Offset 0.
	Reset()
}

// Compactor is optionally implemented by a Model's runtime to bound
// accelerator memory fragmentation. TokenIterator invokes it periodically
// (see generate.iterator) if the Model provides it.
type Compactor interface {
	CompactMemory()
}

// Model produces logits for the next position given the tokens fed so far
// and a KV cache. A single call may "prime" (prefill) several tokens at
// once or decode a single token; the returned logits always correspond to
// the last position of tokens.
type Model interface {
	// Forward runs the network on tokens, updating cache in place, and
	// returns the logit row (length vocabSize) for the final position.
	Forward(ctx context.Context, tokens []Token, cache KVCache) ([]float32, error)

	// NewCache allocates a fresh, empty KVCache sized for this model.
	NewCache() KVCache

	// VocabSize returns the number of entries in a logit row.
	VocabSize() int
}

// Tokenizer converts between text and token ids. Implementations are
// assumed to already exist (weight-paired vocabulary, BPE/SentencePiece
// merges, etc.); this repository only depends on the interface.
type Tokenizer interface {
	Encode(text string) []Token
	Decode(tokens []Token) string

	// TokenToBytes returns the raw UTF-8 bytes a single token decodes to,
	// used by the streaming detokenizer to detect incomplete codepoints
	// without having to re-decode the whole buffer on every step.
	TokenToBytes(t Token) []byte

	// EOSTokens returns every token id that should terminate generation.
	EOSTokens() []Token

	// BOS returns the beginning-of-sequence token id, or -1 if the
	// tokenizer has none.
	BOS() Token
}
