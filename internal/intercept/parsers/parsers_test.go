package parsers

import (
	"encoding/json"
	"testing"
)

func TestJSONParser_ParsesCompleteObject(t *testing.T) {
	p := jsonParser{}
	buf := []byte(`{"name": "get_weather", "arguments": {"city": "Paris"}}`)
	call, done, err := p.TryParse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatalf("expected complete parse")
	}
	if call.Name != "get_weather" {
		t.Errorf("got name %q", call.Name)
	}
}

func TestJSONParser_IncompleteBufferWaits(t *testing.T) {
	p := jsonParser{}
	_, done, err := p.TryParse([]byte(`{"name": "get_weat`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("expected incomplete buffer to not be done")
	}
}

func TestHermesParser_ParsesWrappedObject(t *testing.T) {
	p := hermesParser{}
	buf := []byte(`<tool_call>{"name": "lookup", "arguments": {"id": 1}}</tool_call>`)
	call, done, err := p.TryParse(buf)
	if err != nil || !done {
		t.Fatalf("got call=%v done=%v err=%v", call, done, err)
	}
	if call.Name != "lookup" {
		t.Errorf("got name %q", call.Name)
	}
}

func TestMistralParser_ParsesFirstCallInArray(t *testing.T) {
	p := mistralParser{}
	buf := []byte(`[TOOL_CALLS][{"name": "a", "arguments": {}}, {"name": "b", "arguments": {}}]`)
	call, done, err := p.TryParse(buf)
	if err != nil || !done {
		t.Fatalf("got call=%v done=%v err=%v", call, done, err)
	}
	if call.Name != "a" {
		t.Errorf("expected first call surfaced, got %q", call.Name)
	}
}

func TestQwen3XMLParser_ExtractsFunctionAndParameters(t *testing.T) {
	p := qwen3XMLParser{}
	buf := []byte(`<tool_call><function=get_weather><parameter=city>Paris</parameter></function></tool_call>`)
	call, done, err := p.TryParse(buf)
	if err != nil || !done {
		t.Fatalf("got call=%v done=%v err=%v", call, done, err)
	}
	if call.Name != "get_weather" {
		t.Errorf("got name %q", call.Name)
	}
	if call.Arguments == "" {
		t.Errorf("expected non-empty arguments")
	}
}

func TestGemmaParser_ParsesPythonCallSyntax(t *testing.T) {
	p := gemmaParser{}
	buf := []byte("```tool_code\nget_weather(city=\"Paris\", units=\"metric\")\n```")
	call, done, err := p.TryParse(buf)
	if err != nil || !done {
		t.Fatalf("got call=%v done=%v err=%v", call, done, err)
	}
	if call.Name != "get_weather" {
		t.Errorf("got name %q", call.Name)
	}
}

func TestRepairJSON_StripsTrailingComma(t *testing.T) {
	in := `{"a": 1, "b": 2,}`
	out := RepairJSON(in)
	if out == in {
		t.Fatalf("expected repair to change malformed input")
	}
	wantValidAfterFix(t, out)
}

func TestRepairJSON_ClosesUnterminatedString(t *testing.T) {
	in := `{"a": "hello`
	out := RepairJSON(in)
	wantValidAfterFix(t, out)
}

func TestRepairJSON_BalancesBrackets(t *testing.T) {
	in := `{"a": [1, 2, {"b": 3}`
	out := RepairJSON(in)
	wantValidAfterFix(t, out)
}

func TestRepairJSON_LeavesValidJSONUnchanged(t *testing.T) {
	in := `{"a": 1}`
	if out := RepairJSON(in); out != in {
		t.Errorf("expected unchanged, got %q", out)
	}
}

func wantValidAfterFix(t *testing.T, s string) {
	t.Helper()
	if !json.Valid([]byte(s)) {
		t.Errorf("repaired JSON still invalid: %q", s)
	}
}
