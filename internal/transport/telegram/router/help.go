package router

import (
	"context"
	"html"
	"sort"
	"strings"

	"dayorder/internal/transport"
)

func (m *CommandManager) helpCommand() Command {
	return Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "List commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(req.Args), &transport.SendOptions{ParseMode: transport.ParseModeHTML, DisablePreview: true})
			return err
		},
	}
}

// helpText renders help for path (empty means the top level) in HTML
// parse mode.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTopHTML(root)
	}
	cur := root
	full := make([]string, 0, len(path))
	for i, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && i == 0 && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the list."
		}
		cur = n
		full = append(full, p)
	}
	return helpNodeHTML(cur, full)
}

type topRow struct {
	name string
	desc string
	lock bool
}

func helpTopHTML(root *cmdNode) string {
	rows := make([]topRow, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// Owner-only commands go last.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"📚 <b>Commands</b>",
		"Send <code>/help &lt;command&gt;</code> for details.",
		"",
	}
	for _, r := range rows {
		lines = append(lines, bullet(r.lock)+"<code>/"+html.EscapeString(r.name)+"</code>"+descSuffix(r.desc))
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	title := "/" + strings.Join(full, " ")
	lines := []string{"📚 <b>Help</b> <code>" + html.EscapeString(title) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>Owner only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	} else if nodeIsOwnerOnly(cur) {
		lines = append(lines, "🔒 <i>Owner only</i>")
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(append([]string(nil), full...), name), " ")
			lines = append(lines, bullet(nodeIsOwnerOnly(n))+"<code>"+html.EscapeString(cmd)+"</code>"+descSuffix(summarizeNodeDesc(n)))
		}
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func bullet(lock bool) string {
	if lock {
		return "• 🔒 "
	}
	return "• "
}

func descSuffix(desc string) string {
	if desc == "" {
		return ""
	}
	return ": " + html.EscapeString(desc)
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	show := min(3, len(kids))
	s := strings.Join(kids[:show], ", ")
	if len(kids) > show {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsOwnerOnly reports whether n, or every command below a group n,
// requires the owner.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return true
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if route := splitRoute(c.Route); len(route) > 1 {
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			add(menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for i, s := range in {
		// Keep single blank separators, drop leading/trailing/duplicate ones.
		if strings.TrimSpace(s) == "" && (i == 0 || i == len(in)-1 || strings.TrimSpace(in[i-1]) == "") {
			continue
		}
		out = append(out, s)
	}
	return out
}
