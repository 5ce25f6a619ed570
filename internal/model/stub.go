package model

import (
	"context"
)

// EchoModel and ByteTokenizer are a minimal, deterministic stand-in for
// a real MLX/GGUF backend. Weight loading and the neural network
// forward pass live in an external backend; cmd/mlxd wires this stub in
// by default so the server and CLI are runnable end to end without a
// model file, and so the generation core's tests exercise a real
// Model/Tokenizer pair rather than only the package-local fakes. It is
// never meant to produce useful completions, only to drive tokens
// through the logit pipeline, detokenizer, and interceptor with
// byte-exact, reproducible output.
const (
	byteVocabSize = 257 // 256 byte values + EOS
	stubEOS       Token = 256
)

// ByteTokenizer encodes/decodes UTF-8 text one byte per token. It has no
// merges, no special tokens beyond EOS, and is only useful for
// exercising the pipeline end to end.
type ByteTokenizer struct{}

func (ByteTokenizer) Encode(text string) []Token {
	b := []byte(text)
	out := make([]Token, len(b))
	for i, c := range b {
		out[i] = Token(c)
	}
	return out
}

func (ByteTokenizer) Decode(tokens []Token) string {
	b := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t >= 0 && t < 256 {
			b = append(b, byte(t))
		}
	}
	return string(b)
}

func (ByteTokenizer) TokenToBytes(t Token) []byte {
	if t < 0 || t >= 256 {
		return nil
	}
	return []byte{byte(t)}
}

func (ByteTokenizer) EOSTokens() []Token { return []Token{stubEOS} }

func (ByteTokenizer) BOS() Token { return -1 }

var _ Tokenizer = ByteTokenizer{}

// echoCache is the trivial KVCache the EchoModel issues: it only tracks
// the token count fed so far, since EchoModel has no actual tensors to
// retain.
type echoCache struct {
	tokens    []Token
	promptLen int
}

func (c *echoCache) Offset() int { return len(c.tokens) }

func (c *echoCache) TrimTo(n int) {
	if n < len(c.tokens) {
		c.tokens = c.tokens[:n]
	}
}

func (c *echoCache) Clone() KVCache {
	cp := make([]Token, len(c.tokens))
	copy(cp, c.tokens)
	return &echoCache{tokens: cp, promptLen: c.promptLen}
}

func (c *echoCache) Reset() { c.tokens = nil }

var _ KVCache = (*echoCache)(nil)

// EchoModel produces a logit row that deterministically favors the next
// byte of a short fixed reply once the prompt has been fully consumed;
// while still folding in the prompt it favors whatever byte keeps
// decoding "on script" so TestIterator-style exercises and a `mlxd run`
// smoke test terminate in bounded time instead of looping forever.
type EchoModel struct {
	// Reply is appended (byte by byte) once the model has "seen" the
	// whole prompt; it exists purely so a `mlxd run` invocation against
	// the stub has something legible to print instead of random bytes.
	Reply string
}

func NewEchoModel() *EchoModel {
	return &EchoModel{Reply: "Hello from the mlxd stub model. Wire in a real backend to generate actual completions."}
}

func (m *EchoModel) Forward(ctx context.Context, tokens []Token, cache KVCache) ([]float32, error) {
	c := cache.(*echoCache)
	c.tokens = append(c.tokens, tokens...)

	logits := make([]float32, byteVocabSize)
	for i := range logits {
		logits[i] = -10
	}

	replyBytes := []byte(m.Reply)
	pos := c.Offset() - promptLenHint(c)
	if pos >= 0 && pos < len(replyBytes) {
		logits[replyBytes[pos]] = 10
		return logits, nil
	}
	logits[stubEOS] = 10
	return logits, nil
}

// promptLenHint reports how many of the cache's leading tokens arrived
// before generation started for this request. EchoModel has no
// separate notion of "prompt" vs "generated" tokens, so it treats the
// very first Forward call's token count as the boundary; each request
// owns its echoCache exclusively, so this is stable within a request.
func promptLenHint(c *echoCache) int {
	if c.promptLen == 0 && len(c.tokens) > 0 {
		c.promptLen = len(c.tokens)
	}
	return c.promptLen
}

func (m *EchoModel) NewCache() KVCache { return &echoCache{} }

func (m *EchoModel) VocabSize() int { return byteVocabSize }

var _ Model = (*EchoModel)(nil)
