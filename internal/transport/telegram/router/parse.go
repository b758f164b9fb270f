package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// tokenizeCommandLine splits on whitespace, honoring single and double
// quotes so notes like "makeup day" stay one argument. An unterminated
// quote runs to the end of the line.
func tokenizeCommandLine(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		have  bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote, have = r, true
		case unicode.IsSpace(r):
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if have {
		out = append(out, cur.String())
	}
	return out
}

// parseFlags separates positional args from --key=value, --key value and
// bare --flag / -f switches. A lone "--" ends flag parsing.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || len(a) == 1 || isNumber(a) {
			pos = append(pos, a)
			continue
		}
		name := strings.TrimLeft(a, "-")
		if k, v, ok := strings.Cut(name, "="); ok {
			flags[strings.ToLower(k)] = v
			continue
		}
		name = strings.ToLower(name)
		if strings.HasPrefix(a, "--") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[name] = args[i+1]
			i++
			continue
		}
		bools[name] = true
	}
	return pos, flags, bools
}

func isNumber(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// newReqID returns a short request id for log correlation.
func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
