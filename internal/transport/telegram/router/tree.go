package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a command path. Interior nodes may have no
// command of their own; "/calendar" lists its subcommands.
type cmdNode struct {
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode { return &cmdNode{children: map[string]*cmdNode{}} }

func (n *cmdNode) add(route []string, c Command) {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
}

func (n *cmdNode) child(tok string) (*cmdNode, bool) {
	if n == nil {
		return nil, false
	}
	c, ok := n.children[strings.ToLower(tok)]
	return c, ok
}

func (n *cmdNode) find(route []string) *cmdNode {
	cur := n
	for _, tok := range route {
		next, ok := cur.child(tok)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// splitRoute lowercases and splits "calendar set" into tokens.
func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(route))
}
