package tgui

import (
	"context"
	"strings"

	"dayorder/internal/transport"
)

// Message is rendered text plus send options.
type Message struct {
	Text string
	Opt  *transport.SendOptions
}

func (m Message) Send(ctx context.Context, ad transport.Adapter, to transport.ChatTarget) (transport.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, ad transport.Adapter, ref transport.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder assembles an HTML message line by line. Defaults: ParseMode=HTML,
// previews disabled.
type Builder struct {
	lines []string
	kb    *Keyboard
}

func New() *Builder { return &Builder{} }

// Title adds a bold title, optionally prefixed by an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := B(strings.TrimSpace(title))
	if e := strings.TrimSpace(emoji); e != "" {
		t = Esc(e) + " " + t
	}
	b.lines = append(b.lines, t.String())
	return b
}

func (b *Builder) Section(title string) *Builder {
	b.lines = append(b.lines, B(title).String())
	return b
}

// Line adds one escaped line; a blank string adds an empty line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds "• key: value" with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(value).String())
	return b
}

func (b *Builder) Keyboard(kb *Keyboard) *Builder {
	b.kb = kb
	return b
}

func (b *Builder) Build() Message {
	return Message{
		Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"),
		Opt: &transport.SendOptions{
			ParseMode:      transport.ParseModeHTML,
			DisablePreview: true,
			Keyboard:       b.kb.Rows(),
		},
	}
}
