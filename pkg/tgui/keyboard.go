package tgui

import "dayorder/internal/transport"

// Keyboard accumulates rows of inline buttons.
type Keyboard struct {
	rows [][]transport.Button
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func Btn(text, data string) transport.Button { return transport.Button{Text: text, Data: data} }

func (k *Keyboard) Row(btns ...transport.Button) *Keyboard {
	if len(btns) > 0 {
		k.rows = append(k.rows, btns)
	}
	return k
}

// Grid lays btns out cols per row.
func (k *Keyboard) Grid(cols int, btns ...transport.Button) *Keyboard {
	if cols <= 0 {
		cols = 1
	}
	for len(btns) > 0 {
		n := min(cols, len(btns))
		k.Row(btns[:n]...)
		btns = btns[n:]
	}
	return k
}

func (k *Keyboard) Rows() [][]transport.Button {
	if k == nil {
		return nil
	}
	return k.rows
}
