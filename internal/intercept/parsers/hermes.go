package parsers

import (
	"bytes"
	"encoding/json"
)

// hermesParser recognizes the Hermes/NousResearch function-calling
// convention: a <tool_call>...</tool_call> block wrapping a single JSON
// object with "name" and "arguments" keys.
type hermesParser struct{}

const hermesOpen = "<tool_call>"
const hermesClose = "</tool_call>"

func (hermesParser) Sentinel() string { return hermesOpen }

func (hermesParser) TryParse(buf []byte) (*ToolCall, bool, error) {
	idx := bytes.Index(buf, []byte(hermesClose))
	if idx < 0 {
		return nil, false, nil
	}
	body := bytes.TrimSpace(buf[len(hermesOpen):idx])

	var call jsonToolCall
	if err := json.Unmarshal(body, &call); err != nil {
		return nil, true, err
	}
	return &ToolCall{Name: call.Name, Arguments: string(call.Arguments)}, true, nil
}
