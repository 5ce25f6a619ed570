// Package intercept splits a model's raw generated text into three
// lanes: visible content, reasoning (text inside <think>...</think>),
// and tool calls. It also truncates output at the first completed stop
// string, all while tolerating sentinels and tags that arrive split
// across multiple streaming chunks.
package intercept

import (
	"github.com/allaspectsdev/mlxd/internal/intercept/parsers"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// state names the interceptor's current scanning mode.
type state int

const (
	scanVisible state = iota
	inThink
	inToolCall
)

// Result is what Feed hands back for one call: newly released visible
// text, newly released reasoning text, any tool calls that completed
// parsing, and whether a stop string was just matched (in which case no
// further Feed calls should be made).
type Result struct {
	Visible   string
	Reasoning string
	ToolCalls []parsers.ToolCall
	Stopped   bool
}

// Interceptor consumes detokenized text incrementally (one chunk per
// generated token, typically) and classifies it.
type Interceptor struct {
	state state

	buf []byte // unclassified bytes not yet safe to release

	stops *stopMatcher

	toolParser parsers.ToolCallParser
	fixArgs    bool

	rawMode bool // disables think/tool-call interception entirely
}

// Option configures an Interceptor at construction.
type Option func(*Interceptor)

// WithStopStrings installs the set of strings that truncate output when
// completed.
func WithStopStrings(stops []string) Option {
	return func(i *Interceptor) { i.stops = newStopMatcher(stops) }
}

// WithToolParser selects which tool-call sentinel/grammar to recognize.
// A nil parser (the zero value returned by parsers.Lookup for an unknown
// name) disables tool-call interception; text that would otherwise be
// buffered as a candidate sentinel is passed through as visible.
func WithToolParser(p parsers.ToolCallParser) Option {
	return func(i *Interceptor) { i.toolParser = p }
}

// WithFixToolArgs enables best-effort repair of malformed tool-call JSON
// arguments (trailing commas, truncated strings, unclosed brackets)
// before they're handed to the caller.
func WithFixToolArgs(on bool) Option {
	return func(i *Interceptor) { i.fixArgs = on }
}

// WithRawMode disables <think> extraction and tool-call parsing
// entirely; every byte fed in is released as visible text (still
// subject to stop-string truncation).
func WithRawMode(on bool) Option {
	return func(i *Interceptor) { i.rawMode = on }
}

// New builds an Interceptor with the given options.
func New(opts ...Option) *Interceptor {
	i := &Interceptor{stops: newStopMatcher(nil)}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Feed appends newly decoded text and returns whatever can now be
// classified with certainty. Text that might still be the prefix of a
// stop string, a "<think>"/"</think>" tag, or a tool-call sentinel is
// held back until the next call resolves the ambiguity.
func (ic *Interceptor) Feed(chunk string) Result {
	ic.buf = append(ic.buf, chunk...)

	var res Result
	for {
		advanced, out := ic.step()
		res.Visible += out.Visible
		res.Reasoning += out.Reasoning
		res.ToolCalls = append(res.ToolCalls, out.ToolCalls...)
		if out.Stopped {
			res.Stopped = true
			return res
		}
		if !advanced {
			return res
		}
	}
}

// step performs at most one state transition or emission, returning
// whether it made progress (so Feed can loop until stable).
func (ic *Interceptor) step() (bool, Result) {
	if len(ic.buf) == 0 {
		return false, Result{}
	}

	switch ic.state {
	case scanVisible:
		return ic.stepVisible()
	case inThink:
		return ic.stepThink()
	case inToolCall:
		return ic.stepToolCall()
	default:
		return false, Result{}
	}
}

func (ic *Interceptor) stepVisible() (bool, Result) {
	if !ic.rawMode {
		if i, complete := findTag(ic.buf, thinkOpen); complete {
			if i > 0 {
				visible, stopped := ic.releaseThroughStops(ic.buf[:i])
				ic.buf = ic.buf[i+len(thinkOpen):]
				ic.state = inThink
				return true, Result{Visible: visible, Stopped: stopped}
			}
			ic.buf = ic.buf[len(thinkOpen):]
			ic.state = inThink
			return true, Result{}
		}
		if ic.toolParser != nil {
			if i, complete := findTag(ic.buf, ic.toolParser.Sentinel()); complete {
				if i > 0 {
					visible, stopped := ic.releaseThroughStops(ic.buf[:i])
					ic.buf = ic.buf[i:]
					ic.state = inToolCall
					return true, Result{Visible: visible, Stopped: stopped}
				}
				ic.state = inToolCall
				return true, Result{}
			}
		}
	}

	// A stop string already complete in the buffer ends output here, even
	// when the tail of a self-overlapping stop string (such as "###")
	// would otherwise be withheld as a pending prefix of another match.
	if visible, stopped := ic.stops.feed(ic.buf); stopped {
		ic.buf = nil
		return true, Result{Visible: string(visible), Stopped: true}
	}

	// Nothing tag-like pending: release everything except a tail that
	// could still become the start of a tag or stop string.
	safe := ic.safeVisiblePrefixLen()
	if safe == 0 {
		return false, Result{}
	}
	visible, stopped := ic.releaseThroughStops(ic.buf[:safe])
	ic.buf = ic.buf[safe:]
	return true, Result{Visible: visible, Stopped: stopped}
}

func (ic *Interceptor) stepThink() (bool, Result) {
	if i, complete := findTag(ic.buf, thinkClose); complete {
		reasoning := string(ic.buf[:i])
		ic.buf = ic.buf[i+len(thinkClose):]
		ic.state = scanVisible
		return true, Result{Reasoning: reasoning}
	}
	safe := partialSuffixSafeLen(ic.buf, thinkClose)
	if safe == 0 {
		return false, Result{}
	}
	reasoning := string(ic.buf[:safe])
	ic.buf = ic.buf[safe:]
	return true, Result{Reasoning: reasoning}
}

func (ic *Interceptor) stepToolCall() (bool, Result) {
	call, done, err := ic.toolParser.TryParse(ic.buf)
	if !done {
		return false, Result{}
	}
	ic.buf = nil
	ic.state = scanVisible
	if err != nil || call == nil {
		return true, Result{}
	}
	if ic.fixArgs {
		call.Arguments = parsers.RepairJSON(call.Arguments)
	}
	return true, Result{ToolCalls: []parsers.ToolCall{*call}}
}

// Flush releases any buffered bytes withheld pending more input, for use
// once the caller knows no more text is coming (generation ended). A
// tag or sentinel prefix that never completed is confirmed not to be
// one and is released as ordinary text for its current lane; an
// unterminated tool call is released back to the visible lane as raw
// text.
func (ic *Interceptor) Flush() Result {
	if len(ic.buf) == 0 {
		return Result{}
	}
	var res Result
	switch ic.state {
	case inThink:
		res.Reasoning = string(ic.buf)
	case inToolCall:
		res.Visible = string(ic.buf)
	default:
		visible, stopped := ic.releaseThroughStops(ic.buf)
		res.Visible = visible
		res.Stopped = stopped
	}
	ic.buf = nil
	return res
}

// releaseThroughStops runs the stop-string matcher over text about to be
// released as visible, truncating at the first completed stop string.
func (ic *Interceptor) releaseThroughStops(text []byte) (string, bool) {
	safe, stopped := ic.stops.feed(text)
	return string(safe), stopped
}

// safeVisiblePrefixLen returns how much of buf can be released without
// risking that its tail is the unfinished prefix of a tag, sentinel, or
// stop string.
func (ic *Interceptor) safeVisiblePrefixLen() int {
	n := len(ic.buf)
	withhold := 0
	if !ic.rawMode {
		if w := partialTagSuffixLen(ic.buf, thinkOpen); w > withhold {
			withhold = w
		}
		if ic.toolParser != nil {
			if w := partialTagSuffixLen(ic.buf, ic.toolParser.Sentinel()); w > withhold {
				withhold = w
			}
		}
	}
	if w := ic.stops.pendingSuffixLen(ic.buf); w > withhold {
		withhold = w
	}
	return n - withhold
}
