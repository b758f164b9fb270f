package router

import (
	"slices"
	"strings"
	"unicode"

	"dayorder/internal/transport"
	"dayorder/pkg/tgui"
)

const (
	maxMenuCommandLen  = 32
	maxMenuDescLen     = 256
	maxMenuCommands    = 100
	ownerOnlyMenuGlyph = "🔒 "
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet [a-z0-9_]{1,32}. It returns "" when nothing usable is left.
func sanitizeTelegramCommand(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '-' || r == '/' || unicode.IsSpace(r)
	})
	parts := words[:0]
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if w != "" {
			parts = append(parts, w)
		}
	}
	out := strings.Join(parts, "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxMenuCommandLen {
		out = strings.TrimRight(out[:maxMenuCommandLen], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a multi-word route into one command,
// e.g. "calendar set" becomes calendar_set.
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

type menuEntry struct {
	cmd, desc string
	shortcut  bool
}

// buildTelegramMenuCommands lists top-level routes first, then /a_b
// shortcuts for multi-word routes, capped at Telegram's limit.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []transport.BotCommand {
	byCmd := map[string]menuEntry{}
	add := func(e menuEntry, ownerOnly bool) {
		e.cmd = sanitizeTelegramCommand(e.cmd)
		if e.cmd == "" {
			return
		}
		e.desc = strings.Join(strings.Fields(e.desc), " ")
		if e.desc == "" {
			e.desc = e.cmd
		}
		if ownerOnly {
			e.desc = ownerOnlyMenuGlyph + e.desc
		}
		e.desc = tgui.TruncRunes(e.desc, maxMenuDescLen)
		// Top-level entries win over shortcuts of the same name.
		if cur, ok := byCmd[e.cmd]; ok && (!cur.shortcut || e.shortcut) {
			return
		}
		byCmd[e.cmd] = e
	}

	if root != nil {
		for _, name := range root.childNames() {
			if n, _ := root.child(name); n != nil {
				add(menuEntry{cmd: name, desc: summarizeNodeDesc(n)}, nodeIsOwnerOnly(n))
			}
		}
	}
	for _, c := range leafCmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		if name, ok := telegramCommandNameFromRoute(route); ok {
			add(menuEntry{cmd: name, desc: desc, shortcut: true}, c.Access == AccessOwnerOnly)
		}
	}

	entries := make([]menuEntry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b menuEntry) int {
		if a.shortcut != b.shortcut {
			if a.shortcut {
				return 1
			}
			return -1
		}
		return strings.Compare(a.cmd, b.cmd)
	})

	out := make([]transport.BotCommand, 0, min(len(entries), maxMenuCommands))
	for _, e := range entries[:min(len(entries), maxMenuCommands)] {
		out = append(out, transport.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
