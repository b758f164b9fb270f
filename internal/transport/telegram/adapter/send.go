package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"dayorder/internal/transport"
	"dayorder/pkg/logx"
)

const telegramTextLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// keyboard rides on the first chunk only
		if i == 0 {
			sendOpt.ReplyMarkup = replyMarkup(opt.Keyboard)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText edits ref in place; overflow beyond one message is sent as
// follow-up messages.
func (a *Adapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, chunks[0], &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           replyMarkup(opt.Keyboard),
	})
	if err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return mapError(err)
	}
	if len(chunks) == 1 {
		return nil
	}
	rest := strings.Join(chunks[1:], "\n")
	plain := &transport.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}
	_, err = a.SendText(ctx, transport.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, rest, plain)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// UpdateMenuCommands publishes the command menu, skipping the API call when
// the list is unchanged since the last successful update.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" || len(out) == 100 {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(out); err != nil {
		return mapError(err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

func replyMarkup(rows [][]transport.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{InlineKeyboard: make([][]tele.InlineButton, 0, len(rows))}
	for _, row := range rows {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, btns)
	}
	return rm
}

// mapError turns Telegram flood control into transport.RateLimitedError so
// the notifier can honor retry_after.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.RateLimitedError{After: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	return err
}
