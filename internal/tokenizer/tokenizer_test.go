package tokenizer

import (
	"testing"
)

func TestCountTokens_NonZeroForKnownText(t *testing.T) {
	tok := New()
	text := "Hello, world! This is a test of the tokenizer."
	count := tok.CountTokens(text)
	if count == 0 {
		t.Errorf("CountTokens returned 0 for known text %q; want non-zero", text)
	}
}

func TestCountTokens_ZeroForEmptyText(t *testing.T) {
	tok := New()
	count := tok.CountTokens("")
	if count != 0 {
		t.Errorf("CountTokens returned %d for empty text; want 0", count)
	}
}

func TestCountMessages_IncludesPerMessageOverhead(t *testing.T) {
	tok := New()

	messages := []Message{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
	}

	rawSum := 0
	for _, msg := range messages {
		rawSum += tok.CountTokens(msg.Role)
		rawSum += tok.CountTokens(msg.Content)
	}

	total := tok.CountMessages(messages)
	if total <= rawSum {
		t.Errorf("CountMessages returned %d; expected > %d (raw sum) due to per-message overhead", total, rawSum)
	}
}

func TestCountMessages_NamedMessageCostsMore(t *testing.T) {
	tok := New()

	plain := []Message{{Role: "user", Content: "Hello"}}
	named := []Message{{Role: "user", Content: "Hello", Name: "alice"}}

	if tok.CountMessages(named) <= tok.CountMessages(plain) {
		t.Error("a named message should cost more tokens than an unnamed one")
	}
}
