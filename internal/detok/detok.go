// Package detok incrementally decodes a stream of tokens into UTF-8 text
// without ever emitting a partial multi-byte codepoint, so a client
// reading an SSE stream byte-by-byte never sees the replacement
// character for a rune that simply hadn't finished arriving yet.
package detok

import (
	"unicode/utf8"

	"github.com/allaspectsdev/mlxd/internal/model"
)

// Stream decodes one token at a time, withholding any trailing bytes
// that do not yet form a complete rune.
type Stream struct {
	tok     model.Tokenizer
	pending []byte
}

// New returns a Stream that decodes tokens using tok.
func New(tok model.Tokenizer) *Stream {
	return &Stream{tok: tok}
}

// Push appends the bytes a single token decodes to and returns the
// longest prefix of the accumulated buffer that is guaranteed complete
// UTF-8 text, along with whether anything was emitted. Incomplete
// trailing bytes are retained for the next call.
func (s *Stream) Push(t model.Token) (string, bool) {
	s.pending = append(s.pending, s.tok.TokenToBytes(t)...)
	return s.drain()
}

// drain finds the longest complete-codepoint prefix of pending, emits
// it, and retains the remainder.
func (s *Stream) drain() (string, bool) {
	if len(s.pending) == 0 {
		return "", false
	}

	cut := completePrefixLen(s.pending)
	if cut == 0 {
		return "", false
	}
	out := string(s.pending[:cut])
	s.pending = s.pending[cut:]
	return out, true
}

// Flush forces out any withheld bytes at end of stream, decoding
// whatever remains even if the last rune turns out invalid (a model
// should never actually end mid-codepoint, but a truncated response
// must not silently drop bytes).
func (s *Stream) Flush() string {
	if len(s.pending) == 0 {
		return ""
	}
	out := string(s.pending)
	s.pending = nil
	return out
}

// completePrefixLen returns the length of the longest prefix of b that
// contains no truncated trailing rune. A buffer ending mid-codepoint has
// its incomplete tail withheld.
func completePrefixLen(b []byte) int {
	if utf8.Valid(b) {
		return len(b)
	}

	n := len(b)
	limit := utf8.UTFMax
	if limit > n {
		limit = n
	}
	for i := 1; i <= limit; i++ {
		c := b[n-i]
		if c < 0x80 {
			// ASCII byte: can only be the whole (complete) last rune.
			break
		}
		if size := leadByteRuneLen(c); size > 0 {
			if i < size {
				// Lead byte seen, but not all of its continuation
				// bytes have arrived yet.
				return n - i
			}
			break
		}
		// continuation byte (10xxxxxx): keep walking back to find its lead.
	}
	return n
}

// leadByteRuneLen returns the total rune length a UTF-8 lead byte
// announces, or 0 if c is not a lead byte (ASCII or continuation byte).
func leadByteRuneLen(c byte) int {
	switch {
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}
