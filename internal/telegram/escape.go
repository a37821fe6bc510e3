package telegram

import "strings"

const markdownReserved = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdown prefixes every Telegram markdown reserved character with a
// backslash. Everything else passes through unchanged.
func EscapeMarkdown(s string) string {
	if !strings.ContainsAny(s, markdownReserved) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if strings.ContainsRune(markdownReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
