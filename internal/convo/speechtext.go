package convo

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speakURLPattern        = regexp.MustCompile(`https?://\S+`)
	speakFencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	speakInlineCodePattern = regexp.MustCompile("`[^`]*`")
	speakMarkdownLink      = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// speakableText strips markup and symbol noise from a sentence unit so the
// avatar reads prose, not markdown. Returns "" when nothing speakable is
// left, in which case the unit is not dispatched.
func speakableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speakFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speakInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speakMarkdownLink.ReplaceAllString(raw, "$1")
	raw = speakURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
		"\\", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			// Zero-width joiner and emoji modifiers.
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs read out loud sound wrong.
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}
