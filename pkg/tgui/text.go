package tgui

import "unicode/utf8"

// TruncRunes cuts s to n runes, ending with "…" when shortened.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}
