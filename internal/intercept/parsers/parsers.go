// Package parsers implements the tool-call grammars ContentInterceptor
// can recognize inside a model's generated text. Each grammar is kept in
// its own file so a new one can be added without touching the
// interceptor's state machine.
package parsers

// ToolCall is a parsed function invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCallParser recognizes one model family's tool-call grammar.
type ToolCallParser interface {
	// Sentinel is the literal text that opens a tool call in this
	// grammar (e.g. "<tool_call>", "[TOOL_CALLS]"), used by the
	// interceptor to detect entry into tool-call mode.
	Sentinel() string

	// TryParse attempts to parse a complete tool call out of buf, which
	// starts at the sentinel and grows as more text streams in. It
	// returns (call, true, nil) once a complete call has been parsed,
	// (nil, false, nil) if buf is merely an incomplete prefix so far,
	// or (nil, true, err) if buf can be proven malformed beyond repair.
	TryParse(buf []byte) (*ToolCall, bool, error)
}

// Lookup returns the parser registered under name, or nil if name is
// empty or unrecognized (callers treat a nil parser as "tool-call
// interception disabled").
func Lookup(name string) ToolCallParser {
	switch name {
	case "json":
		return jsonParser{}
	case "hermes":
		return hermesParser{}
	case "llama3_json":
		return llama3JSONParser{}
	case "qwen3_xml":
		return qwen3XMLParser{}
	case "mistral":
		return mistralParser{}
	case "gemma":
		return gemmaParser{}
	default:
		return nil
	}
}
