package parsers

import (
	"bytes"
	"encoding/json"
	"regexp"
)

// qwen3XMLParser recognizes Qwen3's XML-flavored tool-call grammar:
//
//	<tool_call>
//	<function=NAME>
//	<parameter=KEY>VALUE</parameter>
//	...
//	</function>
//	</tool_call>
type qwen3XMLParser struct{}

const qwen3Open = "<tool_call>"
const qwen3Close = "</tool_call>"

func (qwen3XMLParser) Sentinel() string { return qwen3Open }

var (
	qwen3Function  = regexp.MustCompile(`<function=([^>]+)>`)
	qwen3Parameter = regexp.MustCompile(`(?s)<parameter=([^>]+)>(.*?)</parameter>`)
)

func (qwen3XMLParser) TryParse(buf []byte) (*ToolCall, bool, error) {
	idx := bytes.Index(buf, []byte(qwen3Close))
	if idx < 0 {
		return nil, false, nil
	}
	body := buf[len(qwen3Open):idx]

	nameMatch := qwen3Function.FindSubmatch(body)
	if nameMatch == nil {
		return nil, true, errMalformedToolCall("qwen3_xml: missing <function=...> tag")
	}

	params := map[string]string{}
	for _, m := range qwen3Parameter.FindAllSubmatch(body, -1) {
		params[string(m[1])] = string(m[2])
	}
	args, err := json.Marshal(params)
	if err != nil {
		return nil, true, err
	}
	return &ToolCall{Name: string(nameMatch[1]), Arguments: string(args)}, true, nil
}
