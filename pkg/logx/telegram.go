package logx

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"dayorder/internal/transport"
)

const (
	tgMaxMessage = 3500
	tgMaxField   = 600
	tgMaxStack   = 900
)

func (s *Service) startTelegramWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.tgCancel = cancel
	s.tgWG.Add(1)
	go func() {
		defer s.tgWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-s.tgQueue:
				if snd := s.currentSender(); snd != nil {
					_, _ = snd.SendText(ctx, it.to, it.msg, &transport.SendOptions{DisablePreview: true})
				}
			}
		}
	}()
}

// telegramWriter is a zerolog.LevelWriter that forwards records to a chat.
// It never blocks the logging call site: full queues drop.
type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	to := s.target
	lim := s.limiter
	minLevel := s.minLevel
	s.mu.Unlock()

	if to.ChatID == 0 || s.currentSender() == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramJSON(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case s.tgQueue <- tgItem{to: to, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as a short plain-text alert.
func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), tgMaxMessage)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "stack" {
			b.WriteString("\n- stack=\n")
			b.WriteString(truncate(fmt.Sprint(m[k]), tgMaxStack))
			continue
		}
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), tgMaxField))
	}
	return truncate(b.String(), tgMaxMessage)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
