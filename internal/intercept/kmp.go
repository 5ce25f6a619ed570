package intercept

import "bytes"

// findTag reports the byte offset of the first full occurrence of tag in
// buf, and whether one was found at all ("complete" meaning the entire
// tag is present, as opposed to merely a prefix of it at the tail).
func findTag(buf []byte, tag string) (int, bool) {
	i := bytes.Index(buf, []byte(tag))
	return i, i >= 0
}

// partialTagSuffixLen returns the length of the longest suffix of buf
// that is a proper, non-empty prefix of tag, i.e. how many trailing
// bytes might still turn into tag if more input arrives, and so must not
// be released yet.
func partialTagSuffixLen(buf []byte, tag string) int {
	max := len(tag) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for l := max; l > 0; l-- {
		if bytes.HasSuffix(buf, []byte(tag[:l])) {
			return l
		}
	}
	return 0
}

// partialSuffixSafeLen is like partialTagSuffixLen but returns how much
// of buf IS safe to release (i.e. len(buf) minus the withheld suffix),
// used inside a single-closing-tag scan where the whole buffer besides
// the withheld tail is reasoning text.
func partialSuffixSafeLen(buf []byte, tag string) int {
	return len(buf) - partialTagSuffixLen(buf, tag)
}

// stopMatcher tracks, for each configured stop string, a Knuth-Morris-
// Pratt partial-match table so that streamed text can be scanned for a
// completed stop string in amortized linear time without ever
// re-scanning from the start of the buffer on every new chunk.
type stopMatcher struct {
	stops   []string
	failure [][]int // KMP failure function per stop string
}

func newStopMatcher(stops []string) *stopMatcher {
	sm := &stopMatcher{stops: stops, failure: make([][]int, len(stops))}
	for i, s := range stops {
		sm.failure[i] = kmpFailure(s)
	}
	return sm
}

// feed scans text for any configured stop string. It returns the prefix
// of text up to (but not including) the first completed stop string,
// and whether one was found. If none is found, the full text is
// returned as safe (the caller is responsible for withholding any
// trailing partial match via pendingSuffixLen before calling feed).
func (sm *stopMatcher) feed(text []byte) ([]byte, bool) {
	cut := len(text)
	found := false
	for _, s := range sm.stops {
		if s == "" {
			continue
		}
		if idx := bytes.Index(text, []byte(s)); idx >= 0 {
			found = true
			if idx < cut {
				cut = idx
			}
		}
	}
	return text[:cut], found
}

// pendingSuffixLen returns how many trailing bytes of buf might still
// become a complete stop string if more text arrives, using each stop
// string's KMP failure function to find the longest suffix of buf that
// is also a proper prefix of that stop string.
func (sm *stopMatcher) pendingSuffixLen(buf []byte) int {
	withhold := 0
	for i, s := range sm.stops {
		if s == "" {
			continue
		}
		if w := longestPrefixSuffixMatch(buf, s, sm.failure[i]); w > withhold {
			withhold = w
		}
	}
	return withhold
}

// kmpFailure builds the standard KMP partial-match ("failure") table for
// pattern p: failure[i] is the length of the longest proper prefix of
// p[:i+1] that is also a suffix of it.
func kmpFailure(p string) []int {
	f := make([]int, len(p))
	k := 0
	for i := 1; i < len(p); i++ {
		for k > 0 && p[i] != p[k] {
			k = f[k-1]
		}
		if p[i] == p[k] {
			k++
		}
		f[i] = k
	}
	return f
}

// longestPrefixSuffixMatch returns the length of the longest suffix of
// buf that equals a proper prefix of pattern, running the KMP automaton
// over buf using pattern's precomputed failure table.
func longestPrefixSuffixMatch(buf []byte, pattern string, failure []int) int {
	if len(pattern) <= 1 {
		// A pattern of at most one byte has no non-empty proper prefix.
		return 0
	}
	k := 0
	for i := 0; i < len(buf); i++ {
		for k > 0 && buf[i] != pattern[k] {
			k = failure[k-1]
		}
		if buf[i] == pattern[k] {
			k++
		}
		if k == len(pattern) {
			// full match ended at i; a caller looking for *pending*
			// (incomplete) matches only cares about matches that reach
			// exactly the end of buf, so keep scanning from the failure
			// state rather than returning early.
			k = failure[k-1]
		}
	}
	if k >= len(pattern) {
		k = len(pattern) - 1
	}
	return k
}
