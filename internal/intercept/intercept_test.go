package intercept

import (
	"testing"

	"github.com/allaspectsdev/mlxd/internal/intercept/parsers"
)

func feedAll(ic *Interceptor, chunks []string) Result {
	var total Result
	for _, c := range chunks {
		r := ic.Feed(c)
		total.Visible += r.Visible
		total.Reasoning += r.Reasoning
		total.ToolCalls = append(total.ToolCalls, r.ToolCalls...)
		if r.Stopped {
			total.Stopped = true
			break
		}
	}
	return total
}

func TestInterceptor_PlainVisibleText(t *testing.T) {
	ic := New()
	r := feedAll(ic, []string{"hello ", "world"})
	if r.Visible != "hello world" {
		t.Errorf("got %q", r.Visible)
	}
}

func TestInterceptor_ExtractsThinkBlock(t *testing.T) {
	ic := New()
	r := feedAll(ic, []string{"<think>reasoning here</think>answer"})
	if r.Reasoning != "reasoning here" {
		t.Errorf("got reasoning %q", r.Reasoning)
	}
	if r.Visible != "answer" {
		t.Errorf("got visible %q", r.Visible)
	}
}

func TestInterceptor_ThinkTagSplitAcrossChunks(t *testing.T) {
	ic := New()
	r := feedAll(ic, []string{"<thi", "nk>hidden</th", "ink>visible"})
	if r.Reasoning != "hidden" {
		t.Errorf("got reasoning %q", r.Reasoning)
	}
	if r.Visible != "visible" {
		t.Errorf("got visible %q", r.Visible)
	}
}

func TestInterceptor_StopStringTruncates(t *testing.T) {
	ic := New(WithStopStrings([]string{"STOP"}))
	r := feedAll(ic, []string{"hello STOP world"})
	if r.Visible != "hello " {
		t.Errorf("got %q", r.Visible)
	}
	if !r.Stopped {
		t.Errorf("expected stopped=true")
	}
}

func TestInterceptor_StopStringSplitAcrossChunks(t *testing.T) {
	ic := New(WithStopStrings([]string{"STOP"}))
	r := feedAll(ic, []string{"hello ST", "OP world"})
	if r.Visible != "hello " {
		t.Errorf("got %q", r.Visible)
	}
	if !r.Stopped {
		t.Errorf("expected stopped=true")
	}
}

func TestInterceptor_ToolCallParsing(t *testing.T) {
	ic := New(WithToolParser(parsers.Lookup("hermes")))
	r := feedAll(ic, []string{
		"before ",
		`<tool_call>{"name": "get_weather", "arguments": {"city": "Paris"}}</tool_call>`,
		" after",
	})
	if r.Visible != "before  after" {
		t.Errorf("got visible %q", r.Visible)
	}
	if len(r.ToolCalls) != 1 || r.ToolCalls[0].Name != "get_weather" {
		t.Errorf("got tool calls %+v", r.ToolCalls)
	}
}

func TestInterceptor_RawModeSkipsThinkExtraction(t *testing.T) {
	ic := New(WithRawMode(true))
	r := feedAll(ic, []string{"<think>stays visible</think>ok"})
	if r.Reasoning != "" {
		t.Errorf("expected no reasoning lane in raw mode, got %q", r.Reasoning)
	}
	if r.Visible == "" {
		t.Errorf("expected raw text released as visible")
	}
}
