package convo

import "unicode/utf8"

// Terminal runes that end a speakable unit. The full-width variants cover
// CJK model output.
const sentenceTerminals = ".?!:;。？！：；"

// SentenceAccumulator turns an incremental fragment stream into complete
// sentence units for speech dispatch.
//
// The boundary policy is deliberately naive: any terminal rune splits, with no
// lookahead, so "3.14" or "Dr." splits early. A false positive only breaks
// speech cadence mid-sentence, which is acceptable; do not add abbreviation
// or numeral handling here.
//
// Concatenating everything returned by Accept and Flush since the last Reset
// reproduces the input stream exactly: no characters are dropped, duplicated,
// or reordered. Callers serialize access; the session invokes it from the
// single turn goroutine.
type SentenceAccumulator struct {
	buf     string
	emitted int
}

func NewSentenceAccumulator() *SentenceAccumulator {
	return &SentenceAccumulator{}
}

// Accept appends fragment to the buffer and returns every completed sentence
// found, in order, each ending with its terminal rune.
func (a *SentenceAccumulator) Accept(fragment string) []string {
	if fragment == "" {
		return nil
	}
	a.buf += fragment

	var out []string
	start := 0
	for i, r := range a.buf {
		if !isSentenceTerminal(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		out = append(out, a.buf[start:end])
		start = end
	}
	if start > 0 {
		a.buf = a.buf[start:]
	}
	a.emitted += len(out)
	return out
}

// Flush returns any remaining buffered text as a final unit, covering a
// stream that ends mid-sentence. The second result is false when the buffer
// is empty.
func (a *SentenceAccumulator) Flush() (string, bool) {
	if a.buf == "" {
		return "", false
	}
	rest := a.buf
	a.buf = ""
	a.emitted++
	return rest, true
}

// Reset clears the buffer and the emitted count; used when a turn is aborted
// or the session history is cleared.
func (a *SentenceAccumulator) Reset() {
	a.buf = ""
	a.emitted = 0
}

// Emitted reports how many units have been produced since the last Reset.
func (a *SentenceAccumulator) Emitted() int { return a.emitted }

func isSentenceTerminal(r rune) bool {
	for _, t := range sentenceTerminals {
		if r == t {
			return true
		}
	}
	return false
}
