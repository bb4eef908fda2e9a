package markdown

import "strings"

// https://core.telegram.org/bots/api#markdownv2-style
const (
	textSpecialChars = `_*[]()~>#+-=|{}.!` + "`\\"
	codeSpecialChars = "`\\"
)

var (
	textLookup = lookupOf(textSpecialChars)
	codeLookup = lookupOf(codeSpecialChars)
)

// EscapeV2 escapes s for use as plain MarkdownV2 text.
func EscapeV2(s string) string {
	return escape(s, &textLookup)
}

// EscapeCode escapes s for use inside a MarkdownV2 code span, where only
// the backtick and backslash are reserved.
func EscapeCode(s string) string {
	return escape(s, &codeLookup)
}

// Code wraps s in an inline code span.
func Code(s string) string {
	return "`" + EscapeCode(s) + "`"
}

func escape(s string, lookup *[256]bool) string {
	n := 0
	for i := range len(s) {
		if lookup[s[i]] {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + n)

	for i := range len(s) {
		if lookup[s[i]] {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}

	return b.String()
}

func lookupOf(chars string) [256]bool {
	var m [256]bool
	for i := range len(chars) {
		m[chars[i]] = true
	}

	return m
}
