package parsers

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// gemmaParser recognizes Gemma's Python-call-style tool-call grammar,
// fenced in a "```tool_code" block:
//
//	```tool_code
//	get_weather(city="Paris", units="metric")
//	```
type gemmaParser struct{}

const gemmaOpen = "```tool_code"
const gemmaClose = "```"

func (gemmaParser) Sentinel() string { return gemmaOpen }

var gemmaCall = regexp.MustCompile(`(?s)^\s*([a-zA-Z_][a-zA-Z0-9_]*)\((.*)\)\s*$`)
var gemmaKwarg = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*=\s*("(?:[^"\\]|\\.)*"|[^,]+)`)

func (gemmaParser) TryParse(buf []byte) (*ToolCall, bool, error) {
	rest := buf[len(gemmaOpen):]
	idx := bytes.Index(rest, []byte(gemmaClose))
	if idx < 0 {
		return nil, false, nil
	}
	line := strings.TrimSpace(string(rest[:idx]))

	m := gemmaCall.FindStringSubmatch(line)
	if m == nil {
		return nil, true, errMalformedToolCall("gemma: expected name(args) call syntax")
	}
	name, rawArgs := m[1], m[2]

	args := map[string]string{}
	for _, kv := range gemmaKwarg.FindAllStringSubmatch(rawArgs, -1) {
		args[kv[1]] = strings.Trim(kv[2], `"`)
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, true, err
	}
	return &ToolCall{Name: name, Arguments: string(encoded)}, true, nil
}
