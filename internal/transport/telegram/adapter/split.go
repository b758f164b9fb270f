package adapter

import "strings"

// splitTelegramText cuts s into chunks of at most limit runes. It prefers
// newline boundaries and, for HTML, never cuts inside a tag. Always returns
// at least one chunk.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			// last newline in the window, unless it leaves a tiny chunk
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			if html {
				if open := danglingTag(rs[start:end]); open > 1 {
					end = start + open
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// danglingTag returns the index of an unclosed '<' in rs, or -1.
func danglingTag(rs []rune) int {
	open, closed := -1, -1
	for i, r := range rs {
		switch r {
		case '<':
			open = i
		case '>':
			closed = i
		}
	}
	if open > closed {
		return open
	}
	return -1
}
