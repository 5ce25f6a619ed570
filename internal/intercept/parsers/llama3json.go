package parsers

import "encoding/json"

// llama3JSONParser recognizes Llama 3's built-in tool-calling format: a
// bare JSON object using "parameters" rather than "arguments" as the key
// for the call's payload.
type llama3JSONParser struct{}

func (llama3JSONParser) Sentinel() string { return "{" }

type llama3ToolCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

func (llama3JSONParser) TryParse(buf []byte) (*ToolCall, bool, error) {
	end, ok := matchingBraceEnd(buf)
	if !ok {
		return nil, false, nil
	}
	var call llama3ToolCall
	if err := json.Unmarshal(buf[:end+1], &call); err != nil {
		return nil, true, err
	}
	return &ToolCall{Name: call.Name, Arguments: string(call.Parameters)}, true, nil
}
