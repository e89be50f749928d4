package policy

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxInputRunes caps a single submitted input. Anything longer is truncated,
// not rejected: a trailing cut-off is friendlier than an error for a student
// pasting a long passage.
const MaxInputRunes = 2000

// SanitizeInput normalises raw user text before it reaches a session:
// control characters are dropped, all whitespace runs collapse to single
// spaces, and the result is trimmed and length-capped.
func SanitizeInput(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	count := 0
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
				count++
			}
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
			count++
		}
		if count >= MaxInputRunes {
			break
		}
	}

	return strings.TrimSpace(b.String())
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns. Applied to transcript
// entries before persistence when redaction is enabled; the live session
// history is never rewritten.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones so card numbers are not classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}
