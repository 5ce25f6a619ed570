package parsers

import "encoding/json"

// mistralParser recognizes Mistral's tool-calling format: a
// "[TOOL_CALLS]" sentinel followed by a JSON array of
// {"name": ..., "arguments": {...}} objects. Only the first call in the
// array is surfaced; a model emitting several calls in one turn is
// expected to be re-prompted per call, consistent with how the rest of
// this package treats one ToolCall per parse.
type mistralParser struct{}

const mistralSentinel = "[TOOL_CALLS]"

func (mistralParser) Sentinel() string { return mistralSentinel }

func (mistralParser) TryParse(buf []byte) (*ToolCall, bool, error) {
	body := buf[len(mistralSentinel):]
	end, ok := matchingBracketEnd(body)
	if !ok {
		return nil, false, nil
	}
	var calls []jsonToolCall
	if err := json.Unmarshal(body[:end+1], &calls); err != nil {
		return nil, true, err
	}
	if len(calls) == 0 {
		return nil, true, errMalformedToolCall("mistral: empty [TOOL_CALLS] array")
	}
	return &ToolCall{Name: calls[0].Name, Arguments: string(calls[0].Arguments)}, true, nil
}

// matchingBracketEnd is matchingBraceEnd's sibling for a top-level JSON
// array instead of an object.
func matchingBracketEnd(buf []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i, b := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
